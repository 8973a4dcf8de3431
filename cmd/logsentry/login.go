package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/logsentry/logsentry/sdk"
)

const defaultDSN = "http://localhost:7677"

type startResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	PollInterval    int    `json:"poll_interval_seconds"`
}

type pollResponse struct {
	Status string `json:"status"`
	AppID  string `json:"app_id"`
	APIKey string `json:"api_key"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// cmdLogin drives the device-authorization flow end to end: it requests a
// device/user code pair, prints the verification instructions, polls until
// an operator approves the code (see cmdApprove), then persists the issued
// API key as this host's local credentials.
func cmdLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	dsn := fs.String("dsn", defaultDSN, "LogSentry server base URL")
	appName := fs.String("app-name", "", "friendly name recorded with the issued credentials")
	if err := fs.Parse(args); err != nil {
		return err
	}
	base := strings.TrimSuffix(*dsn, "/")

	var start startResponse
	if err := postJSON(base+"/sdk/device/start", nil, &start); err != nil {
		return fmt.Errorf("starting device authorization: %w", err)
	}

	fmt.Printf("Visit %s and approve this code: %s\n", start.VerificationURL, start.UserCode)
	fmt.Printf("(expires in %d seconds)\n", start.ExpiresIn)
	fmt.Println("Waiting for approval...")

	interval := time.Duration(start.PollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(start.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		time.Sleep(interval)

		var poll pollResponse
		pollURL := base + "/sdk/device/poll?device_code=" + url.QueryEscape(start.DeviceCode)
		if err := getJSON(pollURL, &poll); err != nil {
			return fmt.Errorf("polling device authorization: %w", err)
		}

		switch poll.Status {
		case "pending":
			continue
		case "completed":
			creds := &sdk.Credentials{
				APIKey:  poll.APIKey,
				DSN:     base,
				AppID:   poll.AppID,
				AppName: *appName,
			}
			if err := sdk.SaveCredentials(creds); err != nil {
				return fmt.Errorf("saving credentials: %w", err)
			}
			fmt.Printf("Login complete. Credentials saved for app %s.\n", poll.AppID)
			return nil
		default:
			if poll.Error != nil {
				return fmt.Errorf("%s: %s", poll.Error.Code, poll.Error.Message)
			}
			return fmt.Errorf("device authorization ended with status %q", poll.Status)
		}
	}

	return fmt.Errorf("device code expired before approval")
}

// cmdApprove is the admin-side half of the device-authorization flow: it
// binds a pending user_code to an owner and app name, issuing the API key
// that the waiting cmdLogin poll will retrieve.
func cmdApprove(args []string) error {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	dsn := fs.String("dsn", defaultDSN, "LogSentry server base URL")
	owner := fs.String("owner", "", "owner identifier to record with the new app")
	appName := fs.String("app-name", "", "app name to register")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: logsentry approve --owner <owner_id> --app-name <name> <user_code>")
	}
	if *owner == "" || *appName == "" {
		return fmt.Errorf("--owner and --app-name are required")
	}
	base := strings.TrimSuffix(*dsn, "/")

	body := map[string]string{
		"user_code": fs.Arg(0),
		"owner_id":  *owner,
		"app_name":  *appName,
	}
	var resp struct {
		AppID string `json:"app_id"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := postJSON(base+"/sdk/device/complete", body, &resp); err != nil {
		return fmt.Errorf("completing device authorization: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}
	fmt.Printf("approved: app_id %s\n", resp.AppID)
	return nil
}

func postJSON(url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func getJSON(url string, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}
