// Package scheduler contains the broker's capability/tier matching rules.
// Every exported function takes the stores it needs as arguments and holds
// no state of its own — the only process-wide state is the Preferences
// singleton (InitPreferences/GetPreferences), which controls whether tier
// suppression uses a strict > or a >= comparison.
package scheduler
