package model

// Package model defines domain data structures used across the app: download
// tasks, aggregate progress, collection entities, and status enums.
// Structures are plain values with explicit state transitions; the
// orchestrator owns all mutation.
