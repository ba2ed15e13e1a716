// bootstrap provisions a fresh settlement node: it registers the first
// airline through the node's own HTTP surface, optionally funds it, and
// writes the deployment record the client and oracle fleet read.
package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/volant-labs/surety/pkg/config"
	"github.com/volant-labs/surety/pkg/contracts"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: bootstrap <endpoint> <first_airline_account> [deployment_path]")
	}
	endpoint := os.Args[1]
	airline := os.Args[2]
	deploymentPath := "deployment.json"
	if len(os.Args) > 3 {
		deploymentPath = os.Args[3]
	}

	owner := os.Getenv("SURETY_OWNER")
	if owner == "" {
		owner = "account:owner"
	}
	name := os.Getenv("SURETY_FIRST_AIRLINE_NAME")
	if name == "" {
		name = "Genesis Air"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	base := "http://" + endpoint

	log.Println("[bootstrap] registering first airline...")
	status, body := post(client, base+"/v1/airlines/first", map[string]interface{}{
		"caller": owner, "account": airline, "name": name,
	})
	switch status {
	case http.StatusCreated:
		log.Printf("[bootstrap] registered %s (%s)", airline, name)
	case http.StatusConflict:
		// Idempotent re-run against an already provisioned node.
		log.Printf("[bootstrap] first airline already registered, continuing")
	default:
		log.Fatalf("register first airline: HTTP %d: %s", status, body)
	}

	if os.Getenv("SURETY_FUND_FIRST_AIRLINE") == "true" {
		log.Println("[bootstrap] funding first airline...")
		status, body = post(client, base+"/v1/airlines/fund", map[string]interface{}{
			"caller": airline, "payment": contracts.FundingAmount,
		})
		switch status {
		case http.StatusOK:
			log.Printf("[bootstrap] funded %s", airline)
		case http.StatusConflict:
			log.Printf("[bootstrap] first airline already funded, continuing")
		default:
			log.Fatalf("fund first airline: HTTP %d: %s", status, body)
		}
	}

	log.Println("[bootstrap] writing deployment record...")
	err := config.WriteDeployment(deploymentPath, config.Deployment{
		Endpoint:          endpoint,
		StoreAddress:      "component:store",
		SettlementAddress: "component:settlement",
	})
	if err != nil {
		log.Fatalf("write deployment record: %v", err)
	}

	log.Printf("[bootstrap] complete, deployment record at %s", deploymentPath)
}

// post sends a JSON body and returns the status code plus response body.
func post(client *http.Client, url string, payload map[string]interface{}) (int, string) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("encode request: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(bytes.TrimSpace(body))
}
