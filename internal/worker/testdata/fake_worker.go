package main

// fake_worker speaks the worker protocol without node. FAKE_WORKER_MODE
// selects the behavior: ok (default), exit_early, never_ready,
// crash_on_request, spawn_child. spawn_child starts a long sleep and writes
// its pid to FAKE_WORKER_CHILD_PIDFILE.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type message struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	Method    string            `json:"method,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   []header          `json:"headers,omitempty"`
	Body      []byte            `json:"body,omitempty"`
	ClientIP  string            `json:"clientIp,omitempty"`
	Status    int               `json:"status,omitempty"`
	SetCookie []string          `json:"setCookie,omitempty"`
	Error     string            `json:"error,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Level     string            `json:"level,omitempty"`
	Message   string            `json:"message,omitempty"`
}

func main() {
	mode := os.Getenv("FAKE_WORKER_MODE")
	if mode == "exit_early" {
		fmt.Fprintln(os.Stderr, "SyntaxError: Unexpected token in worker.js")
		os.Exit(1)
	}
	out := os.NewFile(3, "replies")
	var mu sync.Mutex
	enc := json.NewEncoder(out)
	send := func(m message) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(m)
	}

	var envMu sync.Mutex
	env := map[string]string{}
	ready := false
	var wg sync.WaitGroup

	if mode == "spawn_child" {
		child := exec.Command("sleep", "60")
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "spawn child:", err)
			os.Exit(1)
		}
		_ = os.WriteFile(os.Getenv("FAKE_WORKER_CHILD_PIDFILE"), []byte(fmt.Sprint(child.Process.Pid)), 0o644)
	}

	fmt.Println("fake worker starting")
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		var m message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			continue
		}
		switch m.Type {
		case "setEnv":
			envMu.Lock()
			env = m.Env
			envMu.Unlock()
			if !ready && mode != "never_ready" {
				ready = true
				send(message{Type: "log", Level: "info", Message: "entry " + os.Getenv("DANMUD_ENTRY")})
				send(message{Type: "ready"})
			}
		case "request":
			if mode == "crash_on_request" {
				fmt.Fprintln(os.Stderr, "fatal: crashing on request")
				os.Exit(3)
			}
			wg.Add(1)
			go func(m message) {
				defer wg.Done()
				if m.URL != "" && len(m.URL) > 6 && m.URL[len(m.URL)-6:] == "/sleep" {
					time.Sleep(200 * time.Millisecond)
				}
				envMu.Lock()
				payload, _ := json.Marshal(map[string]any{
					"method":   m.Method,
					"url":      m.URL,
					"clientIp": m.ClientIP,
					"body":     string(m.Body),
					"env":      env,
				})
				envMu.Unlock()
				send(message{
					Type:      "response",
					ID:        m.ID,
					Status:    200,
					Headers:   []header{{Name: "content-type", Value: "application/json"}, {Name: "x-worker-pid", Value: fmt.Sprint(os.Getpid())}},
					SetCookie: []string{"a=1", "b=2"},
					Body:      payload,
				})
			}(m)
		}
	}
	wg.Wait()
}
