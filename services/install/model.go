package install

import (
	"time"

	"gorm.io/datatypes"
)

// Installation is one workspace's app install. InstallData holds the
// encrypted install payload, or the raw JSON when no key is configured.
type Installation struct {
	TeamID              string    `gorm:"column:team_id;type:varchar(64);primaryKey"`
	EnterpriseID        string    `gorm:"column:enterprise_id;type:varchar(64);primaryKey"`
	IsEnterpriseInstall bool      `gorm:"column:is_enterprise_install;primaryKey"`
	InstallData         string    `gorm:"column:install_data;type:text;not null"`
	InstalledAt         time.Time `gorm:"column:installed_at;not null;autoCreateTime:false"`
}

func (Installation) TableName() string {
	return "workspace_installations"
}

type OAuthState struct {
	State          string         `gorm:"column:state;type:varchar(128);primaryKey"`
	InstallOptions datatypes.JSON `gorm:"column:install_options;not null"`
	ExpiresAt      time.Time      `gorm:"column:expires_at;not null;index"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (OAuthState) TableName() string {
	return "oauth_states"
}

func Models() []any {
	return []any{&Installation{}, &OAuthState{}}
}
