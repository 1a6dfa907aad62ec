/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// natsPublisher mirrors every room write onto a NATS subject so other
// processes can follow rooms without polling.
type natsPublisher struct {
	nc      *nats.Conn
	subject string
}

func newNATSPublisher(cfg *Config) (*natsPublisher, error) {
	nc, err := nats.Connect(cfg.natsURL,
		nats.Name("popbox v"+releaseVersion),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logf(cfg, "ERROR: Disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logf(cfg, "SERVE: Reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &natsPublisher{nc: nc, subject: cfg.natsSubject}, nil
}

func (p *natsPublisher) Publish(path string, data []byte) error {
	return p.nc.Publish(subjectFor(p.subject, path), data)
}

func (p *natsPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

// subjectFor maps rooms/{id} to <prefix>.{id}; any other path keeps all of
// its segments.
func subjectFor(prefix, path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) == 2 && segs[0] == "rooms" {
		segs = segs[1:]
	}

	for i, seg := range segs {
		segs[i] = subjectToken(seg)
	}

	return prefix + "." + strings.Join(segs, ".")
}

// subjectToken replaces characters NATS treats as separators or wildcards.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}

	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
