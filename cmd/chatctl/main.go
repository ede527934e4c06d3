package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opsdesk/chatd/internal/chat"
	"github.com/opsdesk/chatd/internal/store"
)

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:7450", "daemon gateway address")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		cmdStatus(*addrFlag, *jsonFlag)
	case "chats":
		cmdChats(*addrFlag, *jsonFlag)
	case "templates":
		if len(args) > 1 {
			cmdTemplateSearch(*addrFlag, args[1], *jsonFlag)
		} else {
			cmdTemplates(*addrFlag, *jsonFlag)
		}
	case "mark-all-read":
		cmdWS(*addrFlag, map[string]any{"action": "markAllRead"})
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: chatctl send <chat-id> <text>")
			os.Exit(1)
		}
		cmdWS(*addrFlag,
			map[string]any{"action": "open", "chatId": args[1]},
			map[string]any{"action": "send", "text": args[2]})
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func fetchState(addr string) *chat.Snapshot {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/state")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "error: daemon returned status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	var snap chat.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return &snap
}

func cmdStatus(addr string, asJSON bool) {
	snap := fetchState(addr)
	if asJSON {
		printJSON(map[string]any{
			"connState":  snap.ConnState,
			"clients":    len(snap.Clients),
			"colleagues": len(snap.Colleagues),
			"templates":  len(snap.Templates),
		})
		return
	}
	fmt.Printf("connection: %s\n", snap.ConnState)
	if snap.Me != nil {
		fmt.Printf("agent:      %s (%s)\n", snap.Me.Name, snap.Me.ID)
	}
	fmt.Printf("clients:    %d\n", len(snap.Clients))
	fmt.Printf("colleagues: %d\n", len(snap.Colleagues))
	fmt.Printf("templates:  %d\n", len(snap.Templates))
}

func cmdChats(addr string, asJSON bool) {
	snap := fetchState(addr)
	if asJSON {
		printJSON(map[string]any{"clients": snap.Clients, "colleagues": snap.Colleagues})
		return
	}
	printPartition("clients", snap.Clients)
	printPartition("colleagues", snap.Colleagues)
}

func printPartition(name string, list []chat.Summary) {
	fmt.Printf("%s:\n", name)
	for _, s := range list {
		line := "  " + s.ID
		if s.Unread > 0 {
			line += fmt.Sprintf(" (%d unread)", s.Unread)
		}
		if s.Last != nil && s.Last.Text != "" {
			line += "  " + truncate(s.Last.Text, 48)
		}
		fmt.Println(line)
	}
}

func cmdTemplates(addr string, asJSON bool) {
	snap := fetchState(addr)
	if asJSON {
		printJSON(snap.Templates)
		return
	}
	for _, t := range snap.Templates {
		fmt.Printf("%s  %s: %s\n", t.ID, t.Title, truncate(t.Body, 60))
	}
}

func cmdTemplateSearch(addr, query string, asJSON bool) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/templates/search?q=" + url.QueryEscape(query))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "error: daemon returned status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	var matches []store.TemplateMatch
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if asJSON {
		printJSON(matches)
		return
	}
	for _, m := range matches {
		fmt.Printf("%s  %s: %s\n", m.Template.ID, m.Template.Title, m.Snippet)
	}
}

// cmdWS sends one or more commands over the gateway websocket and
// waits briefly so the daemon has applied them before exit.
func cmdWS(addr string, cmds ...map[string]any) {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/v1/ws", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	for _, cmd := range cmds {
		if err := conn.WriteJSON(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	time.Sleep(200 * time.Millisecond)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show daemon status")
	fmt.Fprintln(os.Stderr, "  chats                  List conversations")
	fmt.Fprintln(os.Stderr, "  templates [query]      List or search reply templates")
	fmt.Fprintln(os.Stderr, "  mark-all-read          Clear all unread counters")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>  Send a text message")
}
