package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdminCapabilitySet_Has(t *testing.T) {
	set := &AdminCapabilitySet{ViewAuditLogs: true, ExportData: true}

	assert.True(t, set.Has(CapViewAuditLogs))
	assert.True(t, set.Has(CapExportData))
	assert.False(t, set.Has(CapManageSystem))
	assert.False(t, set.Has(Capability("made_up")))
}

func TestAdminCapabilitySet_Granted(t *testing.T) {
	set := &AdminCapabilitySet{ManageUsers: true, DeleteAccounts: true}

	assert.Equal(t, []Capability{CapManageUsers, CapDeleteAccounts}, set.Granted())
	assert.Empty(t, (&AdminCapabilitySet{}).Granted())
}
