package notarium

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/config"
	"github.com/mosaicnetworks/notarium/src/crypto/keys"
	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/ledger"
	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/mosaicnetworks/notarium/src/node"
	"github.com/mosaicnetworks/notarium/src/notary"
	"github.com/mosaicnetworks/notarium/src/service"
	"github.com/sirupsen/logrus"
)

// Database names under Config.DatabaseDir.
const (
	ledgerBadgerDir     = "ledger"
	ledgerSQLiteFile    = "ledger.db"
	checkpointsDir      = "checkpoints"
	uniquenessDir       = "uniqueness"
	serviceStopDeadline = 5 * time.Second
)

// Notarium is the engine: it reads the configuration, opens the stores and
// the transport, and wires them into a Node and its HTTP service.
type Notarium struct {
	Config        *config.Config
	Key           *ecdsa.PrivateKey
	Directory     *identity.Directory
	Info          *identity.NodeInfo
	Transport     net.Transport
	Ledger        ledger.Ledger
	Store         flow.CheckpointStore
	NotaryService *notary.Service
	Node          *node.Node
	Service       *service.Service

	uniqueness *notary.BadgerUniquenessProvider
	logger     *logrus.Entry
}

// NewNotarium is a factory method to produce a Notarium instance.
func NewNotarium(c *config.Config) *Notarium {
	return &Notarium{
		Config: c,
		logger: c.Logger(),
	}
}

// Init initialises the engine. Run can only be called after a successful Init.
func (n *Notarium) Init() error {
	n.logger.Debug("validateConfig")
	if err := n.Config.Validate(); err != nil {
		n.logger.WithError(err).Error("notarium.go:Init() validateConfig")
		return err
	}

	n.logger.Debug("initKey")
	if err := n.initKey(); err != nil {
		n.logger.WithError(err).Error("notarium.go:Init() initKey")
		return err
	}

	n.logger.Debug("initDirectory")
	if err := n.initDirectory(); err != nil {
		n.logger.WithError(err).Error("notarium.go:Init() initDirectory")
		return err
	}

	n.logger.Debug("initStores")
	if err := n.initStores(); err != nil {
		n.logger.WithError(err).Error("notarium.go:Init() initStores")
		return err
	}

	n.logger.Debug("initTransport")
	if err := n.initTransport(); err != nil {
		n.logger.WithError(err).Error("notarium.go:Init() initTransport")
		return err
	}

	n.logger.Debug("initNotary")
	if err := n.initNotary(); err != nil {
		n.logger.WithError(err).Error("notarium.go:Init() initNotary")
		return err
	}

	n.logger.Debug("initNode")
	if err := n.initNode(); err != nil {
		n.logger.WithError(err).Error("notarium.go:Init() initNode")
		return err
	}

	n.logger.Debug("initService")
	if err := n.initService(); err != nil {
		n.logger.WithError(err).Error("notarium.go:Init() initService")
		return err
	}

	return nil
}

// Run starts the HTTP service, if any, and the node. It blocks until the node
// shuts down.
func (n *Notarium) Run() {
	if n.Service != nil {
		go n.Service.Serve()
	}
	n.Node.Run()
}

// Shutdown stops the service and the node, and closes every store. It may be
// called after a failed Init.
func (n *Notarium) Shutdown() error {
	var result *multierror.Error

	if n.Service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), serviceStopDeadline)
		defer cancel()
		if err := n.Service.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping service: %w", err))
		}
	}

	if n.Node != nil {
		if err := n.Node.Shutdown(); err != nil {
			result = multierror.Append(result, err)
		}
	} else {
		// Init failed before the node took ownership of the stores
		if n.Transport != nil {
			if err := n.Transport.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("closing transport: %w", err))
			}
		}
		if n.Store != nil {
			if err := n.Store.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("closing checkpoint store: %w", err))
			}
		}
		if n.Ledger != nil {
			if err := n.Ledger.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("closing ledger: %w", err))
			}
		}
	}

	if n.uniqueness != nil {
		if err := n.uniqueness.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing uniqueness database: %w", err))
		}
	}

	return result.ErrorOrNil()
}

func (n *Notarium) initKey() error {
	if n.Key != nil {
		return nil
	}

	simpleKeyfile := keys.NewSimpleKeyfile(n.Config.Keyfile())

	privKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		n.logger.Errorf("Error reading private key from file: %v", err)
		return err
	}

	n.Key = privKey

	return nil
}

// initDirectory loads parties.json and finds the entry of this node, by
// moniker when one is configured, else by public key.
func (n *Notarium) initDirectory() error {
	if n.Directory == nil {
		directory, err := identity.NewJSONDirectory(n.Config.DataDir).Directory()
		if err != nil {
			return fmt.Errorf("loading parties.json: %w", err)
		}
		if directory == nil {
			return fmt.Errorf("parties.json is empty")
		}
		n.Directory = directory
	}

	pub := common.NormalizeHex(keys.PublicKeyHexOf(n.Key))

	if n.Config.Moniker != "" {
		info, ok := n.Directory.NodeByName(n.Config.Moniker)
		if !ok {
			return fmt.Errorf("%s is not in parties.json", n.Config.Moniker)
		}
		if info.PubKeyHex != pub {
			return fmt.Errorf("the key of %s in parties.json is not %s", n.Config.Moniker, pub)
		}
		n.Info = info
	} else {
		for _, info := range n.Directory.Nodes() {
			if info.PubKeyHex == pub {
				n.Info = info
				break
			}
		}
		if n.Info == nil {
			return fmt.Errorf("no entry of parties.json has key %s", pub)
		}
		n.Config.Moniker = n.Info.Name
	}

	n.logger = n.logger.WithField("moniker", n.Info.Name)

	n.logger.WithFields(logrus.Fields{
		"parties": n.Directory.Len(),
		"notary":  n.Info.Notary,
	}).Debug("Loaded network map")

	return nil
}

func (n *Notarium) initStores() error {
	sealer, err := ledger.NewSealerFromKey(n.Key)
	if err != nil {
		return err
	}
	ledgerConf := ledger.Config{
		Sealer: sealer,
		Logger: n.logger,
	}

	if !n.Config.Store {
		n.Ledger = ledger.NewInmemLedger(ledgerConf)
		n.Store = flow.NewInmemCheckpointStore()
		n.logger.Debug("created new in-mem stores")
		return nil
	}

	dbDir := n.Config.DatabaseDir
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return err
	}

	switch n.Config.Ledger {
	case config.SQLiteLedger:
		path := filepath.Join(dbDir, ledgerSQLiteFile)
		n.logger.WithField("path", path).Debug("Opening sqlite ledger")
		n.Ledger, err = ledger.NewSQLiteLedger(path, ledgerConf)
	default:
		path := filepath.Join(dbDir, ledgerBadgerDir)
		n.logger.WithField("path", path).Debug("Opening badger ledger")
		n.Ledger, err = ledger.NewBadgerLedger(path, n.Config.CacheSize, ledgerConf)
	}
	if err != nil {
		return err
	}

	path := filepath.Join(dbDir, checkpointsDir)
	n.logger.WithField("path", path).Debug("Opening checkpoint store")
	n.Store, err = flow.NewBadgerCheckpointStore(path, n.logger.WithField("prefix", "badger"))
	if err != nil {
		n.Ledger.Close()
		return err
	}

	return nil
}

func (n *Notarium) initTransport() error {
	transport, err := net.NewTCPTransport(
		n.Config.BindAddr,
		n.Config.AdvertiseAddr,
		n.Config.MaxPool,
		n.Config.TCPTimeout,
		n.Config.NotariseTimeout,
		n.logger,
	)
	if err != nil {
		return err
	}

	n.Transport = transport

	return nil
}

// initNotary starts a notary service when the configuration or parties.json
// say this node is a notary. Both must agree when both are set.
func (n *Notarium) initNotary() error {
	notaryType, err := n.Config.NotaryType()
	if err != nil {
		return err
	}
	if notaryType == identity.NoNotary {
		notaryType = n.Info.Notary
	}
	if notaryType == identity.NoNotary {
		return nil
	}
	if n.Info.Notary != notaryType {
		return fmt.Errorf("%s is configured as a %s notary but parties.json says %q", n.Info.Name, notaryType, n.Info.Notary)
	}

	replicas := []*ecdsa.PrivateKey{n.Key}
	for _, file := range n.Config.NotaryReplicas {
		key, err := keys.NewSimpleKeyfile(file).ReadKey()
		if err != nil {
			return fmt.Errorf("reading replica key %s: %w", file, err)
		}
		replicas = append(replicas, key)
	}

	paramsHash, err := n.Config.NetworkParametersHash()
	if err != nil {
		return err
	}

	var uniqueness notary.UniquenessProvider = notary.NewInmemUniquenessProvider()
	if n.Config.Store {
		path := filepath.Join(n.Config.DatabaseDir, uniquenessDir)
		n.uniqueness, err = notary.NewBadgerUniquenessProvider(path, n.logger.WithField("prefix", "badger"))
		if err != nil {
			return err
		}
		uniqueness = n.uniqueness
	}

	n.NotaryService, err = notary.NewService(notary.ServiceConfig{
		Party:                 n.Info.Party(),
		Validating:            notaryType == identity.ValidatingNotary,
		ReplicaKeys:           replicas,
		NetworkParametersHash: paramsHash,
		Directory:             n.Directory,
		Uniqueness:            uniqueness,
	}, n.logger.WithField("prefix", "notary"))
	if err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"type":     notaryType,
		"replicas": len(replicas),
	}).Info("Notary service")

	return nil
}

func (n *Notarium) initNode() error {
	nodeConf := node.NewConfig(
		n.Config.FlowWorkers,
		n.Config.MaxFlowRetries,
		n.Config.NotaryRetry(),
		n.Config.BaseLogger(),
	)

	var err error
	n.Node, err = node.NewNode(
		nodeConf,
		n.Info.Party(),
		n.Key,
		n.Directory,
		n.Transport,
		n.Ledger,
		n.Store,
		n.NotaryService,
	)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	if err := n.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}

	return nil
}

func (n *Notarium) initService() error {
	if !n.Config.NoService {
		n.Service = service.NewService(n.Config.ServiceAddr, n.Node, n.logger.WithField("prefix", "service"))
	}
	return nil
}

// Keygen creates a new key in keyfile. It fails if the file already holds a
// key.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
