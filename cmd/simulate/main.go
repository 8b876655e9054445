package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// simulate drives scripted calls through a running api-server: start a call
// for a pending appointment, wait for the greeting, answer with a random
// choice, and watch the call wind down. Useful for eyeballing pacing and for
// smoke-testing a deployment end to end.

type appointmentJSON struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type listJSON struct {
	Appointments []appointmentJSON `json:"appointments"`
}

type startCallJSON struct {
	CallID string `json:"call_id"`
}

type callJSON struct {
	State string `json:"state"`
	Ready bool   `json:"ready"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	baseURL := flag.String("api", "http://127.0.0.1:8080", "api-server base URL")
	calls := flag.Int("calls", 5, "number of calls to simulate")
	callTimeout := flag.Duration("call-timeout", 2*time.Minute, "per-call deadline")
	flag.Parse()

	client := &http.Client{Timeout: 15 * time.Second}
	choices := []string{"confirm", "confirm", "cancel", "reschedule"}

	outcomes := map[string]int{}
	for i := 0; i < *calls; i++ {
		choice := choices[rand.Intn(len(choices))]
		if err := runCall(client, *baseURL, choice, *callTimeout); err != nil {
			log.Printf("call %d (%s): %v", i+1, choice, err)
			outcomes["failed"]++
			continue
		}
		outcomes[choice]++
	}

	log.Printf("simulation complete: %v", outcomes)
}

func runCall(client *http.Client, baseURL, choice string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	apptID, err := pickPending(client, baseURL)
	if err != nil {
		return err
	}

	var started startCallJSON
	if err := post(client, fmt.Sprintf("%s/appointments/%s/call", baseURL, apptID), nil, &started); err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	log.Printf("call %s started for appointment %s", started.CallID, apptID)

	callURL := fmt.Sprintf("%s/calls/%s", baseURL, started.CallID)

	// Wait for the greeting to finish so the choice is accepted.
	if err := waitFor(client, callURL, deadline, func(c callJSON) bool { return c.Ready }); err != nil {
		return fmt.Errorf("wait for greeting: %w", err)
	}

	body, _ := json.Marshal(map[string]string{"choice": choice})
	if err := post(client, callURL+"/respond", body, nil); err != nil {
		return fmt.Errorf("respond %s: %w", choice, err)
	}

	if choice == "reschedule" {
		// The session hands off; play the host and finish the flow ourselves.
		newTime := time.Now().Add(72 * time.Hour).Truncate(time.Hour)
		body, _ := json.Marshal(map[string]any{"appointment_time": newTime})
		if err := post(client, fmt.Sprintf("%s/appointments/%s/reschedule", baseURL, apptID), body, nil); err != nil {
			return fmt.Errorf("reschedule: %w", err)
		}
		if err := post(client, callURL+"/hangup", nil, nil); err != nil {
			return fmt.Errorf("hangup: %w", err)
		}
	}

	if err := waitFor(client, callURL, deadline, func(c callJSON) bool { return c.State == "ended" }); err != nil {
		return fmt.Errorf("wait for call end: %w", err)
	}
	return nil
}

func pickPending(client *http.Client, baseURL string) (string, error) {
	resp, err := client.Get(baseURL + "/appointments")
	if err != nil {
		return "", fmt.Errorf("list appointments: %w", err)
	}
	defer resp.Body.Close()

	var list listJSON
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", fmt.Errorf("decode appointments: %w", err)
	}

	var pending []string
	for _, a := range list.Appointments {
		if a.Status == "pending" {
			pending = append(pending, a.ID)
		}
	}
	if len(pending) == 0 {
		return "", fmt.Errorf("no pending appointments, run cmd/seed first")
	}
	return pending[rand.Intn(len(pending))], nil
}

func waitFor(client *http.Client, callURL string, deadline time.Time, done func(callJSON) bool) error {
	for time.Now().Before(deadline) {
		resp, err := client.Get(callURL)
		if err != nil {
			return err
		}
		var c callJSON
		err = json.NewDecoder(resp.Body).Decode(&c)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if done(c) {
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("deadline exceeded")
}

func post(client *http.Client, url string, body []byte, out any) error {
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
