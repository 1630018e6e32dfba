// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command tcpbridge listens on every address a source node/service pair
// resolves to, and bridges each accepted client to a freshly dialed
// connection against the first address a destination node/service pair
// resolves to, journaling and replaying every byte in both directions.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.tcpbridge.dev/bridge/acceptor"
	"go.tcpbridge.dev/bridge/engine"
	"go.tcpbridge.dev/bridge/reactor"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{})
	log.SetOutput(os.Stderr)

	if len(os.Args) != 5 {
		fmt.Fprint(os.Stderr, usageLine(os.Args[0]))
		os.Exit(1)
	}
	srcNode, srcService, destNode, destService := os.Args[1], os.Args[2], os.Args[3], os.Args[4]

	// SIGPIPE must never kill the process: a peer closing its read side
	// mid-write is an ordinary, expected event, handled as a write error
	// by the bridge engine instead.
	signal.Ignore(syscall.SIGPIPE)

	srcAddrs, err := resolveAll(srcNode, srcService)
	if err != nil {
		log.WithError(err).Fatal("resolve source address failed")
	}

	destAddr, err := resolveFirst(destNode, destService)
	if err != nil {
		log.WithError(err).Fatal("resolve destination address failed")
	}

	workDir, err := os.Getwd()
	if err != nil {
		log.WithError(err).Fatal("getwd failed")
	}

	r, err := reactor.New()
	if err != nil {
		log.WithError(err).Fatal("reactor init failed")
	}

	onAccept := func(fd int, peer unix.Sockaddr) {
		if err := engine.Start(r, workDir, fd, peer, destAddr, log); err != nil {
			log.WithError(err).Warn("bridge start failed")
		}
	}

	listening := 0
	for _, a := range srcAddrs {
		if _, err := acceptor.Listen(r, a, log, onAccept); err != nil {
			log.WithError(err).Warnf("listen on %s failed", describe(a))
			continue
		}
		fmt.Printf("now listening on %s\n", describe(a))
		listening++
	}

	if listening == 0 {
		log.Warn("no listener could be established on any resolved source address")
	}

	if err := r.Run(); err != nil {
		log.WithError(err).Fatal("reactor run failed")
	}
}

// resolveAll resolves every address a node/service pair maps to, walking
// the complete result set. The source implementation this spec is drawn
// from only ever consulted the first getaddrinfo result for *source*
// resolution, a bug this rewrite does not preserve: every resolved source
// address gets its own listener.
func resolveAll(node, service string) ([]unix.Sockaddr, error) {
	port, err := lookupPort(service)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), node)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("tcpbridge: %s resolved to no addresses", node)
	}
	out := make([]unix.Sockaddr, 0, len(ips))
	for _, ip := range ips {
		sa, err := toSockaddr(ip.IP, port)
		if err != nil {
			continue
		}
		out = append(out, sa)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tcpbridge: %s resolved to no usable addresses", node)
	}
	return out, nil
}

// resolveFirst resolves a node/service pair and returns only the first
// address in resolver order. This narrowing is intentional (spec.md's
// Open Question #2): only the first resolved destination address is ever
// used, matching the original program's behavior.
func resolveFirst(node, service string) (unix.Sockaddr, error) {
	all, err := resolveAll(node, service)
	if err != nil {
		return nil, err
	}
	return all[0], nil
}

func lookupPort(service string) (int, error) {
	if n, err := strconv.Atoi(service); err == nil {
		return n, nil
	}
	return net.DefaultResolver.LookupPort(context.Background(), "tcp", service)
}

func toSockaddr(ip net.IP, port int) (unix.Sockaddr, error) {
	if v4 := ip.To4(); v4 != nil {
		return &unix.SockaddrInet4{Port: port, Addr: [4]byte{v4[0], v4[1], v4[2], v4[3]}}, nil
	}
	if v6 := ip.To16(); v6 != nil {
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], v6)
		return sa, nil
	}
	return nil, fmt.Errorf("tcpbridge: unroutable IP %s", ip)
}

func usageLine(prog string) string {
	return fmt.Sprintf("Usage: %s srcaddr srcport destaddr destport\n", prog)
}

func describe(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3])
		return fmt.Sprintf("%s:%d", ip, v.Port)
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip, v.Port)
	default:
		return "?"
	}
}
