package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/edaix/pkg/app/core/access"
)

const (
	ComplianceAllowAll  = "allow_all"
	ComplianceAllowlist = "allowlist"
)

type Node struct {
	// DataDir holds the pebble store; empty runs in memory
	DataDir string
	// BlockTime is the producer's tick. Empty ticks do not make blocks, so a
	// short interval only costs a mempool check.
	BlockTime  time.Duration
	ChainID    int64
	MempoolMax int // 0 = unbounded
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

// Operator is a capability grant applied at startup
type Operator struct {
	Address common.Address
	Caps    access.Capability
}

type Exchange struct {
	PoolFeeBps int64
	// Root holds every capability; empty means the node generates a devnet key
	Root           string
	Operators      []Operator
	ComplianceMode string
	Allowlist      []common.Address // approved for every instrument
	AttestorSeed   string           // >= 32 bytes; empty disables attestation
}

type P2P struct {
	Listen    string // empty disables gossip
	Bootstrap []string
}

// TxGen drives the devnet load generator
type TxGen struct {
	Enabled  bool
	Mode     string // "default" or "high"
	AdminKey string // hex key holding admin capabilities; empty uses the generated devnet root
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Node     Node
	API      API
	Exchange Exchange
	P2P      P2P
	TxGen    TxGen
	Log      Log
}

func Default() Config {
	return Config{
		Node: Node{
			BlockTime: 200 * time.Millisecond,
			ChainID:   1337,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Exchange: Exchange{
			PoolFeeBps:     30,
			ComplianceMode: ComplianceAllowAll,
		},
		TxGen: TxGen{Mode: "default"},
		Log:   Log{Level: "info"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// godotenv never overrides variables already set
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	if ms, ok := getInt("BLOCK_TIME_MS"); ok && ms > 0 {
		cfg.Node.BlockTime = time.Duration(ms) * time.Millisecond
	}
	if id, ok := getInt("CHAIN_ID"); ok && id > 0 {
		cfg.Node.ChainID = id
	}
	if n, ok := getInt("MEMPOOL_MAX"); ok && n >= 0 {
		cfg.Node.MempoolMax = int(n)
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := getList("CORS_ORIGINS", ","); origins != nil {
		cfg.API.AllowedOrigins = origins
	}

	if bps, ok := getInt("POOL_FEE_BPS"); ok {
		cfg.Exchange.PoolFeeBps = bps
	}
	cfg.Exchange.Root = getEnv("ROOT_ADDRESS", cfg.Exchange.Root)
	cfg.Exchange.AttestorSeed = getEnv("ATTESTOR_SEED", cfg.Exchange.AttestorSeed)
	cfg.Exchange.ComplianceMode = strings.ToLower(getEnv("COMPLIANCE_MODE", cfg.Exchange.ComplianceMode))

	if ops := os.Getenv("OPERATORS"); ops != "" {
		parsed, err := ParseOperators(ops)
		if err != nil {
			return cfg, fmt.Errorf("OPERATORS: %w", err)
		}
		cfg.Exchange.Operators = parsed
	}
	for _, a := range getList("ALLOWLIST", ",") {
		if !common.IsHexAddress(a) {
			return cfg, fmt.Errorf("ALLOWLIST: invalid address %q", a)
		}
		cfg.Exchange.Allowlist = append(cfg.Exchange.Allowlist, common.HexToAddress(a))
	}

	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	cfg.P2P.Bootstrap = getList("P2P_BOOTSTRAP", ",")

	cfg.TxGen.Enabled = os.Getenv("ENABLE_TXGEN") == "true"
	cfg.TxGen.Mode = getEnv("TXGEN_MODE", cfg.TxGen.Mode)
	cfg.TxGen.AdminKey = getEnv("TXGEN_ADMIN_KEY", cfg.TxGen.AdminKey)

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	return cfg, cfg.Validate()
}

// Validate rejects settings the node cannot start with
func (c Config) Validate() error {
	switch c.Exchange.ComplianceMode {
	case ComplianceAllowAll, ComplianceAllowlist:
	default:
		return fmt.Errorf("COMPLIANCE_MODE: unknown mode %q", c.Exchange.ComplianceMode)
	}
	if c.Exchange.PoolFeeBps < 0 || c.Exchange.PoolFeeBps >= 10_000 {
		return fmt.Errorf("POOL_FEE_BPS: %d out of range", c.Exchange.PoolFeeBps)
	}
	if c.Exchange.Root != "" && !common.IsHexAddress(c.Exchange.Root) {
		return fmt.Errorf("ROOT_ADDRESS: invalid address %q", c.Exchange.Root)
	}
	if c.TxGen.Mode != "default" && c.TxGen.Mode != "high" {
		return fmt.Errorf("TXGEN_MODE: unknown mode %q", c.TxGen.Mode)
	}
	if c.TxGen.Enabled && c.TxGen.AdminKey == "" && c.Exchange.Root != "" {
		return fmt.Errorf("ENABLE_TXGEN: TXGEN_ADMIN_KEY is required when ROOT_ADDRESS is set")
	}
	if s := c.Exchange.AttestorSeed; s != "" && len(s) < 32 {
		return fmt.Errorf("ATTESTOR_SEED: need at least 32 bytes, got %d", len(s))
	}
	return nil
}

// ParseOperators parses "0xabc:pair,session;0xdef:all"
func ParseOperators(s string) ([]Operator, error) {
	var out []Operator
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, caps, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("operator %q: expected address:capabilities", entry)
		}
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("operator %q: invalid address", entry)
		}
		c, err := access.ParseCapabilities(caps)
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", entry, err)
		}
		if c == 0 {
			return nil, fmt.Errorf("operator %q: no capabilities", entry)
		}
		out = append(out, Operator{Address: common.HexToAddress(addr), Caps: c})
	}
	return out, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt ignores unset and malformed values
func getInt(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getList(key, sep string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
