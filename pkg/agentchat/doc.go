// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agentchat drives exchanges with the document Q&A agent.
//
// # Description
//
// An Orchestrator owns one conversation.Store and runs one exchange at a
// time:
//
//	Send(text)
//	  ├─ build request (query + recent question/answer pairs)
//	  ├─ StartExchange on the store (user turn + open assistant turn)
//	  ├─ StreamOpener.Open → response body
//	  ├─ stream.LineReader → stream.Parser → store.ApplyEvent
//	  └─ CloseExchange (completed | errored | silent | aborted | transport_failed)
//
// Presentation code never touches the pipeline. It reads snapshots or
// subscribes to store changes.
//
// # Wire Format
//
//	POST {base}/agent/chat_stream
//	{"query":"What is X?","context":[{"question":"...","answer":"..."}]}
//
// The response is NDJSON, one event per line.
//
// # Thread Safety
//
// Orchestrator methods are safe for concurrent use. Send blocks for the
// duration of the exchange; Abort may be called from any goroutine.
package agentchat
