package handler

import (
	"github.com/hitoshi/prodsource/internal/admin"
	"github.com/hitoshi/prodsource/internal/auth"
	"github.com/hitoshi/prodsource/internal/product"
	"github.com/hitoshi/prodsource/internal/source"
	"github.com/hitoshi/prodsource/internal/user"
)

// サービス層の具象型がハンドラーのインターフェースを満たすことを
// コンパイル時に保証する。アダプタは不要で、直接注入できる。
var (
	_ AuthServiceInterface    = (*auth.Service)(nil)
	_ SessionCookieCodec      = (*auth.SessionCodec)(nil)
	_ ProductServiceInterface = (*product.Service)(nil)
	_ SourceServiceInterface  = (*source.Service)(nil)
	_ UserServiceInterface    = (*user.Service)(nil)
	_ AdminServiceInterface   = (*admin.Service)(nil)
)
