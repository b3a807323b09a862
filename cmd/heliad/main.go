// Command heliad brings up a single Helia core node: a libp2p host running
// Bitswap (§4.D/§4.E), Kademlia provider/value routing (§4.G) and IPNS
// (§4.H) behind the blockservice façade (§4.I), all fanned out by one
// swarm event loop (§4.F).
//
// Grounded on ipfs-rainbow/setup.go's Setup(): libp2p.Option assembly
// (Identity, ListenAddrStrings, DefaultTransports/Muxers, NATPortMap,
// ConnectionManager), go-ds-badger4 datastore construction, and
// peering.NewPeeringService wiring are all adapted from there, since the
// teacher (vijayee-go-ipfs) never does host bring-up itself.
package main

import (
	"context"
	crand "crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ipfs/go-cid"
	badger4 "github.com/ipfs/go-ds-badger4"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/cyberfly-io/rust-helia-sub001/internal/bitswap"
	"github.com/cyberfly-io/rust-helia-sub001/internal/blockservice"
	"github.com/cyberfly-io/rust-helia-sub001/internal/blockstore"
	"github.com/cyberfly-io/rust-helia-sub001/internal/bsnet"
	"github.com/cyberfly-io/rust-helia-sub001/internal/config"
	heliadht "github.com/cyberfly-io/rust-helia-sub001/internal/dht"
	"github.com/cyberfly-io/rust-helia-sub001/internal/ipns"
	"github.com/cyberfly-io/rust-helia-sub001/internal/peerwantlists"
	"github.com/cyberfly-io/rust-helia-sub001/internal/swarm"
)

var log = logging.Logger("heliad")

func main() {
	var (
		dataDir    = flag.String("data-dir", "./helia-data", "on-disk path for the blockstore/datastore/keys")
		listenAddr = flag.String("listen", "/ip4/0.0.0.0/tcp/4001", "libp2p listen multiaddr")
		bootstrap  = flag.String("bootstrap", "", "comma-separated bootstrap peer multiaddrs")
		peering    = flag.String("peer", "", "comma-separated always-connect peer multiaddrs")
	)
	flag.Parse()

	if err := run(*dataDir, *listenAddr, *bootstrap, *peering); err != nil {
		log.Errorf("heliad: %s", err)
		os.Exit(1)
	}
}

func run(dataDir, listenAddr, bootstrap, peeringAddrs string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.New(
		config.WithBlockstorePath(filepath.Join(dataDir, "blocks")),
		config.WithDatastorePath(filepath.Join(dataDir, "datastore")),
	)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	priv, err := loadOrGenerateIdentity(dataDir)
	if err != nil {
		return fmt.Errorf("node identity: %w", err)
	}

	badgerOpts := badger4.DefaultOptions
	ds, err := badger4.NewDatastore(filepath.Join(dataDir, "badger4"), &badgerOpts)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer ds.Close()

	cmgr, err := connmgr.NewConnManager(64, 256, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return fmt.Errorf("connection manager: %w", err)
	}

	var kdht *kaddht.IpfsDHT
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.NATPortMap(),
		libp2p.ConnectionManager(cmgr),
		libp2p.EnableHolePunching(),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			d, derr := kaddht.New(context.Background(), h)
			kdht = d
			return d, derr
		}),
	)
	if err != nil {
		return fmt.Errorf("start libp2p host: %w", err)
	}
	defer h.Close()

	for _, bp := range splitAddrs(bootstrap) {
		ai, err := peer.AddrInfoFromP2pAddr(bp)
		if err != nil {
			log.Warnf("bad bootstrap addr %s: %s", bp, err)
			continue
		}
		if err := h.Connect(ctx, *ai); err != nil {
			log.Warnf("bootstrap connect to %s: %s", ai.ID, err)
		}
	}
	if kdht != nil {
		if err := kdht.Bootstrap(ctx); err != nil {
			log.Warnf("dht bootstrap: %s", err)
		}
	}

	bstore := blockstore.New(ds)
	pwl := peerwantlists.New(ctx, cfg.MaxSizeReplaceHasWithBlock)
	net := bsnet.NewFromHost(h)
	coord := bitswap.New(h.ID(), net, bstore, pwl)
	defer coord.Close()

	var router heliadht.Router
	if kdht != nil {
		router = heliadht.NewKadRouter(kdht, cfg.DHTQueryTimeout)
	}

	var routers []heliadht.Router
	if router != nil {
		routers = append(routers, router)
	}
	names := ipns.New(ds, routers, cfg.IPNSLifetime, cfg.IPNSRepublishInterval)
	go names.Republish(ctx)

	svc := blockservice.New(bstore, coord, providerAdapter{router})

	var alwaysConnect []peer.AddrInfo
	for _, pa := range splitAddrs(peeringAddrs) {
		ai, err := peer.AddrInfoFromP2pAddr(pa)
		if err != nil {
			log.Warnf("bad peering addr %s: %s", pa, err)
			continue
		}
		alwaysConnect = append(alwaysConnect, *ai)
	}

	loop := swarm.New(h, net, bstore, coord, pwl, alwaysConnect)
	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("start swarm loop: %w", err)
	}
	defer loop.Close()

	log.Infof("heliad: %s listening on %s", h.ID(), h.Addrs())
	_ = svc // reachable via future RPC/gateway front-ends; exercised directly in internal/blockservice's tests

	<-ctx.Done()
	log.Info("heliad: shutting down")
	return nil
}

// providerAdapter narrows a dht.Router down to blockservice.Provider.
type providerAdapter struct {
	r heliadht.Router
}

func (p providerAdapter) Provide(ctx context.Context, c cid.Cid) error {
	if p.r == nil {
		return nil
	}
	return p.r.Provide(ctx, c)
}

func loadOrGenerateIdentity(dataDir string) (crypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "identity.key")
	data, err := os.ReadFile(keyPath)
	if err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	priv, _, err := crypto.GenerateEd25519Key(crand.Reader)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, raw, 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}

func splitAddrs(s string) []ma.Multiaddr {
	if s == "" {
		return nil
	}
	var out []ma.Multiaddr
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				if a, err := ma.NewMultiaddr(s[start:i]); err == nil {
					out = append(out, a)
				}
			}
			start = i + 1
		}
	}
	return out
}
