package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/notary"
	"github.com/sirupsen/logrus"
)

// Config ...
type Config struct {
	RPCWorkers        int           `mapstructure:"rpc-workers"`
	FlowWorkers       int           `mapstructure:"flow-workers"`
	MaxFlowRetries    uint64        `mapstructure:"max-flow-retries"`
	RetryInitial      time.Duration `mapstructure:"flow-retry-initial"`
	RetryMax          time.Duration `mapstructure:"flow-retry-max"`
	DeliveryTimeout   time.Duration `mapstructure:"delivery-timeout"`
	RedeliveryInitial time.Duration `mapstructure:"redelivery-initial"`
	RedeliveryMax     time.Duration `mapstructure:"redelivery-max"`
	HistoryFlows      int           `mapstructure:"history-flows"`
	HistoryPerFlow    int           `mapstructure:"history-per-flow"`
	NotaryRetry       notary.RetryConfig
	Clock             common.Clock
	Logger            *logrus.Logger
}

// NewConfig ...
func NewConfig(flowWorkers int,
	maxFlowRetries uint64,
	notaryRetry notary.RetryConfig,
	logger *logrus.Logger) *Config {

	conf := DefaultConfig()
	conf.FlowWorkers = flowWorkers
	conf.MaxFlowRetries = maxFlowRetries
	conf.NotaryRetry = notaryRetry
	conf.Logger = logger

	return conf
}

// DefaultConfig ...
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		RPCWorkers:        8,
		FlowWorkers:       16,
		MaxFlowRetries:    3,
		RetryInitial:      time.Second,
		RetryMax:          time.Minute,
		DeliveryTimeout:   5 * time.Second,
		RedeliveryInitial: 50 * time.Millisecond,
		RedeliveryMax:     5 * time.Second,
		HistoryFlows:      1000,
		HistoryPerFlow:    20,
		NotaryRetry:       notary.DefaultRetryConfig(),
		Clock:             common.SystemClock{},
		Logger:            logger,
	}
}

// TestConfig uses short delays and logs to t.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.FlowWorkers = 4
	config.RetryInitial = 10 * time.Millisecond
	config.RetryMax = 50 * time.Millisecond
	config.DeliveryTimeout = 200 * time.Millisecond
	config.RedeliveryInitial = 10 * time.Millisecond
	config.RedeliveryMax = 100 * time.Millisecond
	config.NotaryRetry = notary.RetryConfig{
		Initial:  5 * time.Millisecond,
		Max:      20 * time.Millisecond,
		Attempts: 20,
	}
	config.Logger = common.NewTestLogger(t, common.TestLogLevel)
	return config
}
