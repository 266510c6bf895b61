package arena

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed static/*.html static/*.js
var staticFS embed.FS

// PageHandler 提供对决小程序页面，页面从 ?id= 读取对决ID并连接 /ws。
type PageHandler struct {
	assets fs.FS
}

// NewPageHandler 创建页面处理器
func NewPageHandler() *PageHandler {
	return &PageHandler{assets: staticFS}
}

// RegisterRoutes 注册页面与静态资源路由
func (h *PageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/arena", h.servePage)
	r.Handle("/arena/static/*", http.StripPrefix("/arena/", http.FileServer(http.FS(h.assets))))
}

func (h *PageHandler) servePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFileFS(w, r, h.assets, "static/arena.html")
}
