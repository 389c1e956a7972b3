// Interactive terminal client for a running tidepool server. Intended for
// local development: it drives the same streaming endpoint the web client
// uses and prints fragments as they arrive.
//
// Usage:
//
//	go run scripts/chat_cli.go [-url http://localhost:8080] [-conversation <id>]
//
// Without -conversation every message runs as a temporary chat and nothing
// is persisted.
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
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorYellow = "\033[33m"
)

const endOfStream = "\n\n[DONE]"

type cli struct {
	baseURL        string
	conversationID string
	supplier       string
	model          string
	parameters     string
	search         string
	http           *http.Client
	scanner        *bufio.Scanner
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	conversation := flag.String("conversation", "", "conversation id (empty for temporary chat)")
	supplier := flag.String("supplier", "", "supplier override")
	model := flag.String("model", "", "model override")
	parameters := flag.String("parameters", "", "model parameter size override")
	flag.Parse()

	c := &cli{
		baseURL:        strings.TrimSuffix(*baseURL, "/"),
		conversationID: *conversation,
		supplier:       *supplier,
		model:          *model,
		parameters:     *parameters,
		http:           &http.Client{Timeout: 0}, // streams can outlive any fixed timeout
		scanner:        bufio.NewScanner(os.Stdin),
	}

	fmt.Printf("%stidepool chat%s — %s\n", colorCyan, colorReset, c.baseURL)
	if c.conversationID == "" {
		fmt.Printf("%stemporary chat: turns are not persisted%s\n", colorYellow, colorReset)
	}
	fmt.Println("commands: /search web|news|off, /new <title>, /quit")

	for {
		fmt.Printf("%s> %s", colorGreen, colorReset)
		if !c.scanner.Scan() {
			return
		}
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if c.command(line) {
				return
			}
			continue
		}
		if err := c.chat(line); err != nil {
			fmt.Printf("%serror: %v%s\n", colorRed, err, colorReset)
		}
	}
}

// command handles a slash command; it reports whether the CLI should exit.
func (c *cli) command(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q", "/exit":
		return true
	case "/search":
		if len(fields) < 2 || fields[1] == "off" {
			c.search = ""
			fmt.Println("search disabled")
			return false
		}
		c.search = fields[1]
		fmt.Printf("search: %s\n", c.search)
	case "/new":
		title := strings.TrimSpace(strings.TrimPrefix(line, "/new"))
		if err := c.newConversation(title); err != nil {
			fmt.Printf("%serror: %v%s\n", colorRed, err, colorReset)
		}
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return false
}

func (c *cli) newConversation(title string) error {
	body, _ := json.Marshal(map[string]string{"title": title})
	resp, err := c.http.Post(c.baseURL+"/api/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create conversation (status %d): %s", resp.StatusCode, payload)
	}

	var conv struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return err
	}
	c.conversationID = conv.ID
	fmt.Printf("conversation %q (%s)\n", conv.Title, conv.ID)
	return nil
}

func (c *cli) chat(content string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"supplier":   c.supplier,
		"model":      c.model,
		"parameters": c.parameters,
		"content":    content,
		"search":     c.search,
	})

	url := c.baseURL + "/api/chat"
	if c.conversationID != "" {
		url = fmt.Sprintf("%s/api/conversations/%s/chat", c.baseURL, c.conversationID)
	}

	start := time.Now()
	resp, err := c.http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Print fragments as they arrive, holding back a tail the size of the
	// end-of-stream sentinel so it never reaches the terminal.
	var tail []byte
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			tail = append(tail, buf[:n]...)
			if flush := len(tail) - len(endOfStream); flush > 0 {
				fmt.Print(string(tail[:flush]))
				tail = tail[flush:]
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	fmt.Println(strings.TrimSuffix(string(tail), endOfStream))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	fmt.Printf("%s(%.1fs)%s\n", colorCyan, time.Since(start).Seconds(), colorReset)
	return nil
}
