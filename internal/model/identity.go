package model

// RoleAdmin 可以直接上传共享文档。
const RoleAdmin = "ADMIN"

// Identity 是已经验证过的调用方身份，核心逻辑无条件信任它。
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// IsAdmin 判断身份是否具有管理员角色。
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
