// Package tproxy implements transparent proxy listeners for Linux, FreeBSD,
// and OpenBSD, and the lookup of a redirected connection's original
// destination.
//
// On Linux, the listening socket is built directly so the accept backlog is
// honoured, with IP_TRANSPARENT (or IPV6_TRANSPARENT) enabled. This is
// designed for use with iptables/nftables TPROXY rules, where the original
// destination is the local address of the accepted connection. For REDIRECT
// or DNAT rules the original destination is retrieved with SO_ORIGINAL_DST
// instead.
//
// On FreeBSD, it listens with IP_BINDANY (protocol-level); on OpenBSD with
// SO_BINDANY (socket-level). Both IPFW fwd and PF rdr-to preserve the original
// destination as the socket's local address.
//
// On other platforms, only plain (non-transparent) listeners are available.
//
// The local address must always be read from the accepted connection, never
// from the listener: the listener reports its own bind address, which is
// usually a wildcard.
package tproxy
