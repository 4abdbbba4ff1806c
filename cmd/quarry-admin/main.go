// ABOUTME: Admin CLI for quarry key, token, budget, and corpus management.
// ABOUTME: Operates directly on the config, key files, and database.

package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/quarrydev/quarry/internal/auth"
	"github.com/quarrydev/quarry/internal/config"
	"github.com/quarrydev/quarry/internal/store"
)

const banner = `
  __ _ _   _  __ _ _ __ _ __ _   _        __ _  __| |_ __ ___ (_)_ __
 / _' | | | |/ _' | '__| '__| | | |_____ / _' |/ _' | '_ ' _ \| | '_ \
| (_| | |_| | (_| | |  | |  | |_| |_____| (_| | (_| | | | | | | | | | |
 \__, |\__,_|\__,_|_|  |_|   \__, |      \__,_|\__,_|_| |_| |_|_|_| |_|
    |_|                      |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "keygen":
		err = cmdKeygen(args)
	case "mint-token":
		err = cmdMintToken(args)
	case "set-budget":
		err = cmdSetBudget(args)
	case "seed":
		err = cmdSeed(args)
	case "health":
		err = cmdHealth()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	color.New(color.FgCyan).Print(banner)
	fmt.Println("Usage: quarry-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  keygen --out PATH                             Generate an RSA key pair")
	fmt.Println("  mint-token --tenant T --user U [--scopes s,t] Mint a signed access token")
	fmt.Println("  set-budget --user U --tier TIER [--amount N]  Set a user's monthly budget")
	fmt.Println("  seed --tenant T --file DOCS.json              Load documents into a tenant")
	fmt.Println("  health                                        Check server health")
}

// getConfigPath returns the path to the quarry config file.
// Priority: QUARRY_CONFIG env var > XDG_CONFIG_HOME/quarry/quarry.yaml > ~/.config/quarry/quarry.yaml
func getConfigPath() string {
	if envPath := os.Getenv("QUARRY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "quarry.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "quarry", "quarry.yaml")
}

// flagValue extracts "--name value" or "--name=value" from args.
func flagValue(args []string, name string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "--"+name && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(args[i], "--"+name+"="); ok {
			return v
		}
	}
	return ""
}

func cmdKeygen(args []string) error {
	out := flagValue(args, "out")
	if out == "" {
		return fmt.Errorf("--out flag is required")
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(out, auth.EncodePrivateKeyPEM(key), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	pubPEM, err := auth.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return err
	}
	pubPath := out + ".pub"
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Private key: %s\n", out)
	green.Printf("  ✓ Public key:  %s\n", pubPath)
	return nil
}

func cmdMintToken(args []string) error {
	tenantID := flagValue(args, "tenant")
	userID := flagValue(args, "user")
	if tenantID == "" || userID == "" {
		return fmt.Errorf("--tenant and --user flags are required")
	}

	var scopes []string
	if raw := flagValue(args, "scopes"); raw != "" {
		scopes = strings.Split(raw, ",")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ttl := cfg.Auth.TokenTTL
	if raw := flagValue(args, "ttl"); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
	}

	keys, err := auth.LoadKeys(cfg.Auth.PrivateKeyPath, cfg.Auth.AllowEphemeral, nil)
	if err != nil {
		return fmt.Errorf("loading key material: %w", err)
	}
	if keys.Ephemeral {
		color.New(color.FgYellow).Println("  warning: signing with an ephemeral key; running servers will reject this token")
	}

	issuer, err := auth.NewIssuer(keys.PrivateKey)
	if err != nil {
		return err
	}

	token, err := issuer.Generate(tenantID, userID, scopes, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func cmdSetBudget(args []string) error {
	userID := flagValue(args, "user")
	tier := flagValue(args, "tier")
	if userID == "" || tier == "" {
		return fmt.Errorf("--user and --tier flags are required")
	}

	amount, ok := store.TierLimits[tier]
	if !ok {
		return fmt.Errorf("unknown tier %q (want basic, pro, or enterprise)", tier)
	}
	if raw := flagValue(args, "amount"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("--amount must be a positive number")
		}
		amount = parsed
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetBudget(context.Background(), userID, tier, amount); err != nil {
		return fmt.Errorf("setting budget: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Budget for %s: %s tier, $%.2f/month\n", userID, tier, amount)
	return nil
}

// seedDocument is one entry in a seed file.
type seedDocument struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func cmdSeed(args []string) error {
	tenantID := flagValue(args, "tenant")
	file := flagValue(args, "file")
	if tenantID == "" || file == "" {
		return fmt.Errorf("--tenant and --file flags are required")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}
	var docs []seedDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	for _, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.New().String()
		}
		err := st.SaveDocument(ctx, &store.Document{
			ID:       id,
			TenantID: tenantID,
			Title:    doc.Title,
			Content:  doc.Content,
		})
		if err != nil {
			return fmt.Errorf("saving document %s: %w", id, err)
		}
	}

	color.New(color.FgGreen).Printf("  ✓ Seeded %d documents into tenant %s\n", len(docs), tenantID)
	return nil
}

func cmdHealth() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func openStore() (store.Store, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return st, nil
}
