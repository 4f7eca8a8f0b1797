// Package sessions — session key builder, parser, and the on-disk
// session store.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the conversation shape:
//
//	DM:     {channel}:dm:{addr}
//	Group:  {channel}:group:{addr}
//	Thread: {channel}:group:{addr}:thread:{threadId}
//	Main:   {mainKey}
//
// Examples:
//
//	agent:main:telegram:dm:386246614
//	agent:main:discord:group:98761234
//	agent:main:telegram:group:-100123456:thread:99
//	agent:main:main
package sessions

import (
	"fmt"
	"strings"
)

// Scope distinguishes DM from group conversations.
type Scope string

const (
	ScopeDM    Scope = "dm"
	ScopeGroup Scope = "group"
)

// BuildSessionKey builds the canonical session key for a conversation.
//
//	DM:    agent:{agentId}:{channel}:dm:{addr}
//	Group: agent:{agentId}:{channel}:group:{addr}
func BuildSessionKey(agentID, channel string, scope Scope, addr string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, scope, addr)
}

// BuildThreadSessionKey builds the session key for a threaded group
// conversation (forum topics, Discord threads).
//
//	agent:{agentId}:{channel}:group:{addr}:thread:{threadID}
func BuildThreadSessionKey(agentID, channel, addr, threadID string) string {
	return fmt.Sprintf("agent:%s:%s:group:%s:thread:%s", agentID, channel, addr, threadID)
}

// BuildAgentMainSessionKey builds the shared "main" session key for an
// agent. Heartbeats and restart resumption land here when no explicit
// session is given.
//
//	agent:{agentId}:{mainKey}
func BuildAgentMainSessionKey(agentID, mainKey string) string {
	if mainKey == "" {
		mainKey = "main"
	}
	return fmt.Sprintf("agent:%s:%s", agentID, mainKey)
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// ThreadID extracts the trailing thread id, if the key carries one.
func ThreadID(key string) (string, bool) {
	idx := strings.LastIndex(key, ":thread:")
	if idx < 0 {
		return "", false
	}
	tid := key[idx+len(":thread:"):]
	if tid == "" || strings.Contains(tid, ":") {
		return "", false
	}
	return tid, true
}

// ScopeFromGroup returns ScopeGroup if isGroup is true, ScopeDM otherwise.
func ScopeFromGroup(isGroup bool) Scope {
	if isGroup {
		return ScopeGroup
	}
	return ScopeDM
}
