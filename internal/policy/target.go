package policy

import "strings"

// DefaultTargetBundleID is the Discord desktop client on macOS.
const DefaultTargetBundleID = "com.hnc.Discord"

// Target identifies the one application whose Enter key is guarded.
type Target struct {
	BundleID string
}

// NewTarget creates a target, falling back to Discord for an empty ID.
func NewTarget(bundleID string) Target {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		bundleID = DefaultTargetBundleID
	}
	return Target{BundleID: bundleID}
}

// Matches reports whether bundleID is the target. Bundle IDs are
// case-insensitive on macOS.
func (t Target) Matches(bundleID string) bool {
	return bundleID != "" && strings.EqualFold(bundleID, t.BundleID)
}

// ProcessName is the executable name used when looking for the running app.
func (t Target) ProcessName() string {
	if strings.EqualFold(t.BundleID, DefaultTargetBundleID) {
		return "Discord"
	}
	parts := strings.Split(t.BundleID, ".")
	return parts[len(parts)-1]
}
