/*
Package nexus is the command-orchestration core of a conversational
assistant. It resolves each user utterance through deterministic routing
before any model call, runs multi-step automation protocols with
confirmation and cooldown gates, and routes symbolic capability names to
remote integration tools through a gateway with a durable outbound queue.

# Architecture

Nexus follows a ports-and-adapters layout. The root package exposes the
Assistant facade; pkg/domain holds the shared value types, pkg/ports the
collaborator contracts (Reasoner, ConversationBuffer, LongTermMemory,
ToolTransport), and internal/ the concrete engines and adapters. The host
owns all I/O: it registers leaf tools on the registry, injects a model
client, and calls Respond once per turn.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"
		"os"

		"github.com/jivan-ai/nexus"
	)

	func main() {
		cfg, err := nexus.LoadConfig("nexus.yaml")
		if err != nil {
			log.Fatal(err)
		}

		assistant, err := nexus.New(cfg)
		if err != nil {
			log.Fatal(err)
		}
		defer assistant.Close()

		reply := assistant.Respond(context.Background(), os.Args[1])
		fmt.Println(reply)
	}

Without an injected Reasoner the assistant still answers everything its
deterministic routes cover: keyword tools, telegram plans, protocol
phrasings and chained clauses. Reasoning turns require WithReasoner.
*/
package nexus
