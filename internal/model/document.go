// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/gorm"
)

// 文档可见性类别。
const (
	VisibilityPrivate = "private"
	VisibilityShared  = "shared"
)

// SharedOwner 是共享文档在向量索引 owner_id 字段上的占位标记。
const SharedOwner = "SHARED"

// Document 记录一个已入库文档的归属、可见性和内容指纹。
// OwnerKey 与 IndexOwner 一致，和 ContentHash 组成唯一索引，保证同一归属下内容不重复。
type Document struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID     *string   `gorm:"type:varchar(64);index" json:"ownerId"`
	OwnerKey    string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_owner_hash" json:"-"`
	Visibility  string    `gorm:"type:varchar(16);not null;index" json:"visibility"`
	Filename    string    `gorm:"type:varchar(255);not null" json:"filename"`
	ContentHash string    `gorm:"type:char(64);not null;uniqueIndex:idx_owner_hash" json:"contentHash"`
	Size        int64     `gorm:"not null" json:"size"`
	ObjectKey   string    `gorm:"type:varchar(512);not null" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// IsShared 判断文档是否为共享文档。
func (d *Document) IsShared() bool {
	return d.Visibility == VisibilityShared
}

// IsOwnedBy 判断私有文档是否属于指定身份。
func (d *Document) IsOwnedBy(identityID string) bool {
	return d.OwnerID != nil && *d.OwnerID == identityID
}

// IndexOwner 返回写入向量索引的 owner 字段。
func (d *Document) IndexOwner() string {
	if d.IsShared() || d.OwnerID == nil {
		return SharedOwner
	}
	return *d.OwnerID
}

// BeforeCreate 写入前根据可见性填充 OwnerKey。
func (d *Document) BeforeCreate(*gorm.DB) error {
	d.OwnerKey = d.IndexOwner()
	return nil
}

// DocumentHide 让某个身份看不到一个共享文档，不影响其他身份。
type DocumentHide struct {
	IdentityID string    `gorm:"type:varchar(64);primaryKey" json:"identityId"`
	DocumentID string    `gorm:"type:varchar(36);primaryKey" json:"documentId"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (DocumentHide) TableName() string {
	return "document_hides"
}
