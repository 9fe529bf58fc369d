package media

// Scheme identifies a CENC protection scheme (§4.2).
type Scheme string

const (
	SchemeCenc Scheme = "cenc"
	SchemeCbc1 Scheme = "cbc1"
	SchemeCens Scheme = "cens"
	SchemeCbcs Scheme = "cbcs"
)

// ProtectionEntry is one manifest `contentProtection` row (§6), keyed by KID
// in Metadata.ContentProtection.
type ProtectionEntry struct {
	Scheme Scheme
	KID    [16]byte
	IV     string // 32-hex, optional
	Pssh   map[string]string
}
