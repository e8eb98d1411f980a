package models

// Capability identifies one administrative permission. Using a dedicated
// type makes an invalid capability name a compile-time error rather than a
// runtime string comparison.
type Capability string

const (
	CapManageUsers    Capability = "manage_users"
	CapManagePartners Capability = "manage_partners"
	CapViewAuditLogs  Capability = "view_audit_logs"
	CapManageContent  Capability = "manage_content"
	CapManageSystem   Capability = "manage_system"
	CapExportData     Capability = "export_data"
	CapDeleteAccounts Capability = "delete_accounts"
)

// AllCapabilities is the fixed enumerated capability list.
var AllCapabilities = []Capability{
	CapManageUsers,
	CapManagePartners,
	CapViewAuditLogs,
	CapManageContent,
	CapManageSystem,
	CapExportData,
	CapDeleteAccounts,
}

// AdminCapabilitySet is the resolved permission set for one admin.
type AdminCapabilitySet struct {
	AdminID        string `db:"admin_id"`
	ManageUsers    bool   `db:"manage_users"`
	ManagePartners bool   `db:"manage_partners"`
	ViewAuditLogs  bool   `db:"view_audit_logs"`
	ManageContent  bool   `db:"manage_content"`
	ManageSystem   bool   `db:"manage_system"`
	ExportData     bool   `db:"export_data"`
	DeleteAccounts bool   `db:"delete_accounts"`
}

// Has reports whether the set grants the given capability.
func (s *AdminCapabilitySet) Has(cap Capability) bool {
	switch cap {
	case CapManageUsers:
		return s.ManageUsers
	case CapManagePartners:
		return s.ManagePartners
	case CapViewAuditLogs:
		return s.ViewAuditLogs
	case CapManageContent:
		return s.ManageContent
	case CapManageSystem:
		return s.ManageSystem
	case CapExportData:
		return s.ExportData
	case CapDeleteAccounts:
		return s.DeleteAccounts
	}
	return false
}

// Granted returns the capabilities present in the set, in declaration order.
func (s *AdminCapabilitySet) Granted() []Capability {
	granted := make([]Capability, 0, len(AllCapabilities))
	for _, cap := range AllCapabilities {
		if s.Has(cap) {
			granted = append(granted, cap)
		}
	}
	return granted
}
