/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package daemon is the composition root: it wires capture, barrier,
// topology, trust, transport and the session supervisor into one
// running process. Everything this package touches is a public
// contract from another package; it holds no protocol or state-machine
// logic of its own (§4.7: "the state machine never touches a socket
// directly" extends transitively — daemon only ever calls through the
// barrier.Control / supervisor.Inbound / capture.Sink seams).
//
// Command-line flags, config-file loading and persisted state are out
// of scope (§1, §6): callers hand Daemon an already-populated Config.
package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/Adjoint-uk/cross-control/barrier"
	"github.com/Adjoint-uk/cross-control/capture"
	"github.com/Adjoint-uk/cross-control/emulate"
	"github.com/Adjoint-uk/cross-control/logger"
	"github.com/Adjoint-uk/cross-control/supervisor"
	"github.com/Adjoint-uk/cross-control/topology"
	"github.com/Adjoint-uk/cross-control/transport"
	"github.com/Adjoint-uk/cross-control/trust"
	"github.com/Adjoint-uk/cross-control/wire"
)

// PeerConfig names one configured peer (§6 "one or more peer entries").
type PeerConfig struct {
	Name        string
	Address     string
	Fingerprint [32]byte
	HasPin      bool
}

// AdjacencyConfig is one multi-hop topology edge (§6 "screen_adjacency
// entries").
type AdjacencyConfig struct {
	Screen     string
	Neighbour  string
	Side       wire.Position
}

// Config is the already-parsed configuration surface this package
// consumes (§6); loading it from disk/flags/env is an external
// collaborator's job.
type Config struct {
	Port         uint16
	IdentityName string
	MachineID    wire.MachineID
	StaticPriv   [32]byte
	ScreenWidth  int32
	ScreenHeight int32
	Peers        []PeerConfig
	Adjacency    []AdjacencyConfig
	AllowPairing bool
	LogLevel     int
}

// Daemon owns one running instance of the full stack: capture reader,
// emulator, barrier state machine, topology, trust store and session
// supervisor (§5 "scheduling model").
type Daemon struct {
	cfg     Config
	log     *logger.Logger
	topo    *topology.Topology
	trust   *trust.Store
	machine *barrier.Machine
	capSrc  capture.Source
	emuSink emulate.Sink
	socket  *transport.Socket
	sup     *supervisor.Supervisor

	mu            sync.RWMutex
	peerScreens   map[string]wire.Screen
	localDeviceID map[uint32]struct{} // devices we physically own, vs. ones a peer announced to us
}

// New builds every component and wires them together but does not yet
// open a socket or start capturing (call Run for that).
func New(cfg Config) (*Daemon, error) {
	log := logger.New(cfg.LogLevel, "(daemon) ")

	if cfg.MachineID == (wire.MachineID{}) {
		cfg.MachineID = wire.NewMachineID()
	}

	topo := topology.New()
	topo.SetLocal(cfg.IdentityName)
	screens := []wire.Screen{{Name: cfg.IdentityName, Width: cfg.ScreenWidth, Height: cfg.ScreenHeight}}
	edges := make([]topology.Edge, 0, len(cfg.Adjacency))
	for _, a := range cfg.Adjacency {
		edges = append(edges, topology.Edge{From: a.Screen, Side: a.Side, To: a.Neighbour})
	}
	for _, p := range cfg.Peers {
		screens = append(screens, wire.Screen{Name: p.Name})
	}
	if err := topo.Reload(dedupeScreens(screens), edges); err != nil {
		return nil, fmt.Errorf("daemon: invalid topology: %w", err)
	}

	store := trust.New()
	for _, p := range cfg.Peers {
		if p.HasPin {
			store.Pair(p.Name, p.Fingerprint)
		}
	}

	d := &Daemon{
		cfg:           cfg,
		log:           log,
		topo:          topo,
		trust:         store,
		capSrc:        capture.NewLinuxSource(logger.New(cfg.LogLevel, "(capture) ")),
		emuSink:       emulate.NewLinuxSink(logger.New(cfg.LogLevel, "(emulate) ")),
		peerScreens:   make(map[string]wire.Screen),
		localDeviceID: make(map[uint32]struct{}),
	}

	socket, err := transport.NewSocket(cfg.Port, logger.New(cfg.LogLevel, "(transport) "))
	if err != nil {
		return nil, err
	}
	d.socket = socket

	identity := supervisor.Identity{
		Certificate: trust.Certificate{Name: cfg.IdentityName, PublicKey: publicFromPrivate(cfg.StaticPriv)},
		StaticPriv:  cfg.StaticPriv,
		MachineID:   cfg.MachineID,
		Name:        cfg.IdentityName,
	}
	sup := supervisor.New(logger.New(cfg.LogLevel, "(supervisor) "), socket, identity, store, cfg.AllowPairing, d.localScreen, d.deviceSnapshot, d)
	for _, p := range cfg.Peers {
		sup.AddPeer(supervisor.PeerConfig{Name: p.Name, Address: p.Address})
	}
	d.sup = sup

	d.machine = barrier.New(logger.New(cfg.LogLevel, "(barrier) "), topo, capture.GrabSwitch{Source: d.capSrc}, d)
	return d, nil
}

// Run starts the capture reader and the session supervisor and blocks
// until ctx is cancelled, then tears everything down in the order §7
// FatalSubsystemError specifies: release grabs, Bye every peer. The
// socket is closed last so the supervisor's receive loop returns.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	captureErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		captureErr <- d.capSrc.Run(ctx, captureSink{d})
	}()

	supErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		supErr <- d.sup.Run(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-captureErr:
		d.log.Errorf("capture subsystem lost: %v", err)
	case err = <-supErr:
		d.log.Errorf("supervisor stopped: %v", err)
	}

	_ = d.capSrc.SetMode(capture.ModeObserve)
	d.sup.Shutdown()
	cancel()
	_ = d.socket.Close()
	wg.Wait()
	return err
}

// localScreen reports this machine's own geometry, used both in the
// handshake (Hello/Welcome, §4.2) and as the clamp target for inbound
// PointerAbs events (§4.4).
func (d *Daemon) localScreen() wire.Screen {
	return wire.Screen{Name: d.cfg.IdentityName, Width: d.cfg.ScreenWidth, Height: d.cfg.ScreenHeight}
}

// deviceSnapshot reports every device currently owned by local capture,
// for a newly-handshaken peer's initial DeviceAnnounce exchange (§4.2
// step 5).
func (d *Daemon) deviceSnapshot() []wire.DeviceInfo {
	if snap, ok := d.capSrc.(interface{ Snapshot() []wire.DeviceInfo }); ok {
		return snap.Snapshot()
	}
	return nil
}

func dedupeScreens(in []wire.Screen) []wire.Screen {
	seen := make(map[string]bool, len(in))
	out := make([]wire.Screen, 0, len(in))
	for _, s := range in {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out
}

// publicFromPrivate is a placeholder identity derivation: in this
// daemon the trust model pins the same X25519 static key used by the
// transport handshake (trust.Certificate.PublicKey), derived once at
// startup from the configured private key. Key generation/persistence
// itself is out of scope (§1, §6); callers supply StaticPriv already
// generated and stored by their own config loader.
func publicFromPrivate(priv [32]byte) [32]byte {
	return transport.PublicKey(priv)
}
