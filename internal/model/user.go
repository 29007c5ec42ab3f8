package model

// UserRole 用户身份由外部认证服务签发的JWT携带，本服务只做角色校验
type UserRole string

const (
	Student   UserRole = "student"
	Corrector UserRole = "corrector"
	Admin     UserRole = "admin"
)
