package domain

// Vendor identifies a remote object store implementation
type Vendor string

const (
	VendorAzure  Vendor = "azure"
	VendorS3     Vendor = "s3"
	VendorMinio  Vendor = "minio"
	VendorGDrive Vendor = "gdrive"
	VendorLocal  Vendor = "local"
)

// IsValid checks if the vendor is a known value
func (v Vendor) IsValid() bool {
	switch v {
	case VendorAzure, VendorS3, VendorMinio, VendorGDrive, VendorLocal:
		return true
	}
	return false
}

// Suite is a logical package tree published as one unit
type Suite string

const (
	SuiteStable  Suite = "stable"
	SuiteNightly Suite = "nightly"

	// SuiteAll is the config fallback block shared by every suite
	SuiteAll Suite = "all"
)

// IsValid checks if the suite can be published
func (s Suite) IsValid() bool {
	switch s {
	case SuiteStable, SuiteNightly:
		return true
	}
	return false
}

// Section selects one of the two storages a pipeline works with
type Section string

const (
	SectionIncoming Section = "incoming"
	SectionIndexed  Section = "indexed"
)

// IsValid checks if the section is a known value
func (s Section) IsValid() bool {
	switch s {
	case SectionIncoming, SectionIndexed:
		return true
	}
	return false
}
