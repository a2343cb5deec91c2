package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tillhq-io/till/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "login":
		cmdLogin(os.Args[2:])
	case "logout":
		cmdLogout()
	case "session":
		cmdSession()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: tillctl tickets <list|show|reply|status>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			requireArg(4, "tillctl tickets show <id>")
			cmdTicketsShow(os.Args[3])
		case "reply":
			requireArg(5, "tillctl tickets reply <id> <message>")
			cmdTicketsReply(os.Args[3], strings.Join(os.Args[4:], " "))
		case "status":
			requireArg(5, "tillctl tickets status <id> <open|in_progress|resolved>")
			cmdTicketsStatus(os.Args[3], os.Args[4])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "flags":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: tillctl flags <list|set>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdFlagsList()
		case "set":
			requireArg(5, "tillctl flags set <key> <on|off>")
			cmdFlagsSet(os.Args[3], os.Args[4])
		default:
			fmt.Fprintf(os.Stderr, "unknown flags subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "plans":
		cmdPlansList()
	case "subscriptions":
		cmdSubscriptionsList()
	case "payments":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: tillctl payments <list|select>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdPaymentsList()
		case "select":
			requireArg(4, "tillctl payments select <id>")
			cmdPaymentsSelect(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown payments subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "theme":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: tillctl theme <get|set>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "get":
			cmdThemeGet()
		case "set":
			requireArg(4, "tillctl theme set <light|dark>")
			cmdThemeSet(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown theme subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: tillctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func requireArg(n int, usage string) {
	if len(os.Args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

// --- Commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(body))
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", envOr("TILL_EMAIL", ""), "Login email")
	fs.Parse(args)

	if *email == "" {
		fmt.Fprintln(os.Stderr, "error: email required (--email or TILL_EMAIL)")
		os.Exit(1)
	}

	password := os.Getenv("TILL_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			password = scanner.Text()
		}
	}
	if password == "" {
		fmt.Fprintln(os.Stderr, "error: password required")
		os.Exit(1)
	}

	body, err := apiSend("POST", "/api/session/login", map[string]string{
		"email":    *email,
		"password": password,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdLogout() {
	if _, err := apiSend("POST", "/api/session/logout", nil); err != nil {
		fatal(err)
	}
	fmt.Println("logged out")
}

func cmdSession() {
	body, err := apiGet("/api/session")
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (open|in_progress|resolved)")
	fs.Parse(args)

	path := "/api/tickets"
	if *status != "" {
		path += "?status=" + *status
	}

	body, err := apiGet(path)
	if err != nil {
		fatal(err)
	}
	var tickets []map[string]any
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		msgs, _ := t["messages"].([]any)
		fmt.Printf("%-8v %-12v %-10v %-24v %v\n",
			t["id"], t["status"], t["priority"], t["company_name"],
			fmt.Sprintf("%s (%d msgs)", t["subject"], len(msgs)))
	}
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + id)
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsReply(id, message string) {
	body, err := apiSend("POST", "/api/tickets/"+id+"/reply", map[string]string{"message": message})
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsStatus(id, status string) {
	if _, err := apiSend("PATCH", "/api/tickets/"+id+"/status", map[string]string{"status": status}); err != nil {
		fatal(err)
	}
	fmt.Printf("ticket %s → %s\n", id, status)
}

func cmdFlagsList() {
	body, err := apiGet("/api/flags")
	if err != nil {
		fatal(err)
	}
	var list []map[string]any
	json.Unmarshal(body, &list)
	for _, f := range list {
		state := "off"
		if enabled, _ := f["enabled"].(bool); enabled {
			state = "on"
		}
		fmt.Printf("%-4s %-28v %v\n", state, f["key"], f["description"])
	}
}

func cmdFlagsSet(key, state string) {
	var enabled bool
	switch state {
	case "on", "true":
		enabled = true
	case "off", "false":
		enabled = false
	default:
		fmt.Fprintf(os.Stderr, "error: state must be on or off, got %q\n", state)
		os.Exit(1)
	}

	if _, err := apiSend("PATCH", "/api/flags/"+key, map[string]bool{"enabled": enabled}); err != nil {
		fatal(err)
	}
	fmt.Printf("%s → %s\n", key, state)
}

func cmdPlansList() {
	body, err := apiGet("/api/plans")
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdSubscriptionsList() {
	body, err := apiGet("/api/subscriptions")
	if err != nil {
		fatal(err)
	}
	var subs []map[string]any
	json.Unmarshal(body, &subs)
	for _, s := range subs {
		fmt.Printf("%-8v %-24v %-20v %v\n", s["id"], s["company_name"], s["plan_name"], s["status"])
	}
}

func cmdPaymentsList() {
	body, err := apiGet("/api/payment-methods")
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdPaymentsSelect(id string) {
	if _, err := apiSend("POST", "/api/payment-methods/"+id+"/select", nil); err != nil {
		fatal(err)
	}
	fmt.Printf("payment method %s selected\n", id)
}

func cmdThemeGet() {
	body, err := apiGet("/api/theme")
	if err != nil {
		fatal(err)
	}
	var resp map[string]string
	json.Unmarshal(body, &resp)
	fmt.Println(resp["theme"])
}

func cmdThemeSet(theme string) {
	if _, err := apiSend("PUT", "/api/theme", map[string]string{"theme": theme}); err != nil {
		fatal(err)
	}
	fmt.Println("theme set to " + theme)
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	limit := fs.Int("limit", 50, "Max entries")
	fs.Parse(args)

	path := fmt.Sprintf("/api/logs?limit=%d", *limit)
	if *level != "" {
		path += "&level=" + *level
	}

	body, err := apiGet(path)
	if err != nil {
		fatal(err)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%v %-5v %v\n", e["time"], e["level"], e["message"])
	}
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	return apiDo("GET", path, nil)
}

func apiSend(method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	return apiDo(method, path, payload)
}

func apiDo(method, path string, payload []byte) ([]byte, error) {
	base := envOr("TILL_API_URL", "http://localhost:8080")

	req, err := http.NewRequest(method, base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("TILL_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("tillctl — admin console CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                      Check daemon health")
	fmt.Println("  login --email <addr>        Sign in to the backend")
	fmt.Println("  logout                      Sign out")
	fmt.Println("  session                     Show session status")
	fmt.Println("  tickets list                List tickets (--status)")
	fmt.Println("  tickets show <id>           Show ticket with messages")
	fmt.Println("  tickets reply <id> <msg>    Reply to a ticket")
	fmt.Println("  tickets status <id> <st>    Change ticket status")
	fmt.Println("  flags list                  List feature flags")
	fmt.Println("  flags set <key> <on|off>    Toggle a feature flag")
	fmt.Println("  plans                       List subscription plans")
	fmt.Println("  subscriptions               List tenant subscriptions")
	fmt.Println("  payments list               List payment methods")
	fmt.Println("  payments select <id>        Make a payment method default")
	fmt.Println("  theme get|set <theme>       Console theme preference")
	fmt.Println("  logs                        Recent daemon logs (--level, --limit)")
	fmt.Println("  config validate <path>      Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TILL_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  TILL_API_KEY   API key for authentication")
	fmt.Println("  TILL_EMAIL     Login email")
	fmt.Println("  TILL_PASSWORD  Login password (prompted if unset)")
}
