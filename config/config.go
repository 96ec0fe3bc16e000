/*
Copyright 2024 Tabwise Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	// DefaultPaymentWindow is how long an escrow keeps accepting payments
	// after it is initialized.
	DefaultPaymentWindow = 7 * 24 * time.Hour

	// DefaultDisputeWindow is how long a raised dispute blocks settlement.
	DefaultDisputeWindow = 3 * 24 * time.Hour

	// DefaultProtocolFeeBps is the settlement fee in basis points.
	DefaultProtocolFeeBps = 50

	DefaultMaxGroupSize   = 50
	DefaultMaxBatchVerify = 20
	DefaultMaxDueHorizon  = 365 * 24 * time.Hour
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"TABWISE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"TABWISE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"TABWISE_SERVER_SECRET_KEY"`
	AdminKey  string `json:"admin_key" envconfig:"TABWISE_SERVER_ADMIN_KEY"`
	Domain    string `json:"domain" envconfig:"TABWISE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"TABWISE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"TABWISE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"TABWISE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"TABWISE_REDIS_DNS"`
}

// SettlementConfig carries the financial parameters of the escrow engine.
// Durations are expressed in seconds in the config file.
type SettlementConfig struct {
	PaymentWindowSec  int64  `json:"payment_window_sec" envconfig:"TABWISE_PAYMENT_WINDOW_SEC"`
	DisputeWindowSec  int64  `json:"dispute_window_sec" envconfig:"TABWISE_DISPUTE_WINDOW_SEC"`
	ProtocolFeeBps    int64  `json:"protocol_fee_bps" envconfig:"TABWISE_PROTOCOL_FEE_BPS"`
	FeeSink           string `json:"fee_sink" envconfig:"TABWISE_FEE_SINK"`
	MaxGroupSize      int    `json:"max_group_size" envconfig:"TABWISE_MAX_GROUP_SIZE"`
	MaxBatchVerify    int    `json:"max_batch_verify" envconfig:"TABWISE_MAX_BATCH_VERIFY"`
	MaxDueHorizonSec  int64  `json:"max_due_horizon_sec" envconfig:"TABWISE_MAX_DUE_HORIZON_SEC"`
	EscrowAccount     string `json:"escrow_account" envconfig:"TABWISE_ESCROW_ACCOUNT"`
	NativeTokenSymbol string `json:"native_token_symbol" envconfig:"TABWISE_NATIVE_TOKEN"`
}

func (s SettlementConfig) PaymentWindow() time.Duration {
	return time.Duration(s.PaymentWindowSec) * time.Second
}

func (s SettlementConfig) DisputeWindow() time.Duration {
	return time.Duration(s.DisputeWindowSec) * time.Second
}

func (s SettlementConfig) MaxDueHorizon() time.Duration {
	return time.Duration(s.MaxDueHorizonSec) * time.Second
}

// ChainConfig describes this deployment's position in the cross-chain
// topology: which chain it runs on and the relay fee it attaches to
// outbound messages.
type ChainConfig struct {
	LocalChain      string   `json:"local_chain" envconfig:"TABWISE_LOCAL_CHAIN"`
	LocalAddress    string   `json:"local_address" envconfig:"TABWISE_LOCAL_ADDRESS"`
	RelayFee        int64    `json:"relay_fee" envconfig:"TABWISE_RELAY_FEE"`
	SupportedChains []string `json:"supported_chains" envconfig:"TABWISE_SUPPORTED_CHAINS"`
}

type QueueConfig struct {
	RelayOutboundQueue string `json:"relay_outbound_queue" envconfig:"TABWISE_RELAY_OUTBOUND_QUEUE"`
	RelayInboundQueue  string `json:"relay_inbound_queue" envconfig:"TABWISE_RELAY_INBOUND_QUEUE"`
	WebhookQueue       string `json:"webhook_queue" envconfig:"TABWISE_WEBHOOK_QUEUE"`
	MonitoringPort     string `json:"monitoring_port" envconfig:"TABWISE_QUEUE_MONITORING_PORT"`
}

// TokenGatewayConfig points at the external service that executes fungible
// token transfers on behalf of the engine.
type TokenGatewayConfig struct {
	Url     string `json:"url" envconfig:"TABWISE_TOKEN_GATEWAY_URL"`
	Timeout int    `json:"timeout" envconfig:"TABWISE_TOKEN_GATEWAY_TIMEOUT"`
	Headers struct {
		Authorization string `json:"Authorization"`
	} `json:"headers"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"TABWISE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"TABWISE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"TABWISE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string             `json:"project_name" envconfig:"TABWISE_PROJECT_NAME"`
	Server       ServerConfig       `json:"server"`
	DataSource   DataSourceConfig   `json:"data_source"`
	Redis        RedisConfig        `json:"redis"`
	Settlement   SettlementConfig   `json:"settlement"`
	Chain        ChainConfig        `json:"chain"`
	Queue        QueueConfig        `json:"queue"`
	TokenGateway TokenGatewayConfig `json:"token_gateway"`
	Notification Notification       `json:"notification"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("tabwise", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called tabwise.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Tabwise Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Chain.LocalChain = strings.TrimSpace(cnf.Chain.LocalChain)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Chain.LocalChain == "" {
		cnf.Chain.LocalChain = "local"
		log.Println("Warning: Local chain not specified. Defaulting to 'local'.")
	}

	if cnf.Settlement.PaymentWindowSec == 0 {
		cnf.Settlement.PaymentWindowSec = int64(DefaultPaymentWindow / time.Second)
	}
	if cnf.Settlement.DisputeWindowSec == 0 {
		cnf.Settlement.DisputeWindowSec = int64(DefaultDisputeWindow / time.Second)
	}
	if cnf.Settlement.ProtocolFeeBps == 0 {
		cnf.Settlement.ProtocolFeeBps = DefaultProtocolFeeBps
	}
	if cnf.Settlement.MaxGroupSize == 0 {
		cnf.Settlement.MaxGroupSize = DefaultMaxGroupSize
	}
	if cnf.Settlement.MaxBatchVerify == 0 {
		cnf.Settlement.MaxBatchVerify = DefaultMaxBatchVerify
	}
	if cnf.Settlement.MaxDueHorizonSec == 0 {
		cnf.Settlement.MaxDueHorizonSec = int64(DefaultMaxDueHorizon / time.Second)
	}
	if cnf.Settlement.NativeTokenSymbol == "" {
		cnf.Settlement.NativeTokenSymbol = "NATIVE"
	}
	if cnf.Settlement.EscrowAccount == "" {
		cnf.Settlement.EscrowAccount = "@escrow"
	}
	if cnf.Settlement.FeeSink == "" {
		cnf.Settlement.FeeSink = "@fees"
	}

	if cnf.Queue.RelayOutboundQueue == "" {
		cnf.Queue.RelayOutboundQueue = "relay_outbound"
	}
	if cnf.Queue.RelayInboundQueue == "" {
		cnf.Queue.RelayInboundQueue = "relay_inbound"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhook"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5002"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.DataSource.Dns == "" {
		mockConfig.DataSource.Dns = "postgres://mock"
	}
	if mockConfig.Redis.Dns == "" {
		mockConfig.Redis.Dns = "localhost:6379"
	}
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
