package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/logsentry/logsentry/sdk"
)

// cmdKeys manages the local credentials file (~/.logsentry/credentials.json):
// show the currently stored app/DSN (API key masked), paste in a key issued
// out of band, or delete it.
func cmdKeys(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: logsentry keys <show|set|delete>")
	}

	switch args[0] {
	case "show":
		return keysShow()
	case "set":
		return keysSet()
	case "delete":
		return keysDelete()
	default:
		return fmt.Errorf("unknown keys subcommand %q", args[0])
	}
}

func keysShow() error {
	creds, err := sdk.LoadCredentials()
	if err != nil {
		return err
	}
	if creds == nil {
		fmt.Println("no credentials stored")
		return nil
	}
	fmt.Printf("app_id:   %s\n", creds.AppID)
	fmt.Printf("app_name: %s\n", creds.AppName)
	fmt.Printf("dsn:      %s\n", creds.DSN)
	fmt.Printf("api_key:  %s\n", maskKey(creds.APIKey))
	return nil
}

func keysSet() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("DSN [http://localhost:7677]: ")
	dsn, _ := reader.ReadString('\n')
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = defaultDSN
	}

	fmt.Print("App ID: ")
	appID, _ := reader.ReadString('\n')
	appID = strings.TrimSpace(appID)

	fmt.Print("App name: ")
	appName, _ := reader.ReadString('\n')
	appName = strings.TrimSpace(appName)

	fmt.Print("API key (input hidden): ")
	keyBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading api key: %w", err)
	}
	apiKey := strings.TrimSpace(string(keyBytes))
	if !strings.HasPrefix(apiKey, "sk_") {
		return fmt.Errorf("api key must have the sk_ prefix")
	}

	return sdk.SaveCredentials(&sdk.Credentials{
		APIKey:  apiKey,
		DSN:     dsn,
		AppID:   appID,
		AppName: appName,
	})
}

func keysDelete() error {
	if err := sdk.DeleteCredentials(); err != nil {
		return err
	}
	fmt.Println("credentials deleted")
	return nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
