// Package core defines the domain model shared by the logsentry detection engines.
//
// # Overview
//
// The core package provides:
//   - Events as received from the ingestion layer (Event, Field access)
//   - Signature findings and alert rule definitions (Signature, Finding, AlertRule)
//   - Threat indicators and reputation verdicts (IOC, ReputationScore, EnrichmentResult)
//   - Behavioral profiles and anomalies (EntityProfile, BehaviorPattern, BehaviorAnomaly)
//   - The tagged condition value used by rule evaluation (Value)
//   - Sentinel errors and the circuit breaker used around remote lookups
//
// Engines receive events as *Event and must treat them as read-only.
package core
