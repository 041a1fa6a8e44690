// smoke-space drives a full space lifecycle against a running API:
// create, approve, delegate, meter to exhaustion, and verify the final
// usage counters. It identifies callers through the X-Caller/X-Roles
// headers, so the target API must run with CHAINSPACE_AUTH_DISABLED=true.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) do(method, path, caller, roles string, body any, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	if roles != "" {
		req.Header.Set("X-Roles", roles)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

func main() {
	base := os.Getenv("CHAINSPACE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	creator := "did:smoke:alice"
	authority := os.Getenv("CHAINSPACE_SMOKE_AUTHORITY")
	if authority == "" {
		authority = "did:smoke:council"
	}

	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}

	code := fmt.Sprintf("smoke-%d", rand.New(rand.NewSource(time.Now().UnixNano())).Int())

	var created struct {
		SpaceID         string `json:"space_id"`
		AuthorizationID string `json:"authorization_id"`
	}
	status, err := c.do(http.MethodPost, "/v1/spaces", creator, "", map[string]any{"code": code}, &created)
	if err != nil || status != http.StatusCreated {
		log.Fatalf("create space: status=%d err=%v", status, err)
	}

	status, err = c.do(http.MethodPost, "/v1/spaces/"+created.SpaceID+"/approve", authority, "governance",
		map[string]any{"capacity": 3}, nil)
	if err != nil || status != http.StatusOK {
		log.Fatalf("approve: status=%d err=%v", status, err)
	}

	// Delegate addition is itself metered: one unit gone.
	var grant struct {
		AuthorizationID string `json:"authorization_id"`
	}
	status, err = c.do(http.MethodPost, "/v1/spaces/"+created.SpaceID+"/delegates", creator, "",
		map[string]any{"delegate": "did:smoke:bob", "role": "assert", "authorization_id": created.AuthorizationID}, &grant)
	if err != nil || status != http.StatusCreated {
		log.Fatalf("add delegate: status=%d err=%v", status, err)
	}

	// Two more units for the delegate's own assertions.
	for i := 0; i < 2; i++ {
		status, err = c.do(http.MethodPost, "/v1/authorize", "did:smoke:bob", "",
			map[string]any{"authorization_id": grant.AuthorizationID}, nil)
		if err != nil || status != http.StatusOK {
			log.Fatalf("authorize %d: status=%d err=%v", i+1, status, err)
		}
	}

	// Quota of 3 is spent; the next attempt must be refused.
	status, err = c.do(http.MethodPost, "/v1/authorize", "did:smoke:bob", "",
		map[string]any{"authorization_id": grant.AuthorizationID}, nil)
	if err != nil || status != http.StatusUnprocessableEntity {
		log.Fatalf("exhausted authorize: expected 422, got status=%d err=%v", status, err)
	}

	var details struct {
		TxnCount    uint64 `json:"txn_count"`
		TxnCapacity uint64 `json:"txn_capacity"`
	}
	status, err = c.do(http.MethodGet, "/v1/spaces/"+created.SpaceID, "", "", nil, &details)
	if err != nil || status != http.StatusOK {
		log.Fatalf("get space: status=%d err=%v", status, err)
	}
	if details.TxnCount != 3 || details.TxnCapacity != 3 {
		log.Fatalf("unexpected counters: count=%d capacity=%d", details.TxnCount, details.TxnCapacity)
	}

	fmt.Printf("✅ chainspace smoke test passed: space=%s\n", created.SpaceID)
}
