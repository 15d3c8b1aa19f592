package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthDataRoutes 注册健康数据路由
func (r *Router) RegisterHealthDataRoutes(h *HealthDataHandler) {
	r.Handle("/api/v1/health-data", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			h.Store(w, req)
		case http.MethodGet:
			h.Query(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	r.Handle("/api/v1/health-data/batch", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.StoreBatch(w, req)
	})
}

// RegisterAlertRoutes 注册报警路由
func (r *Router) RegisterAlertRoutes(h *AlertsHandler) {
	r.Handle("/api/v1/alerts/active", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListActive(w, req)
	})

	// /api/v1/alerts/{id}/resolve, /api/v1/alerts/{id}/read
	r.Handle("/api/v1/alerts/", h.ServeAlertAction)
}

// RegisterThresholdRoutes 注册阈值配置路由
func (r *Router) RegisterThresholdRoutes(h *ThresholdsHandler) {
	r.Handle("/api/v1/thresholds", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			h.List(w, req)
		case http.MethodPut:
			h.Upsert(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// RegisterWSRoutes 注册推送通道路由
func (r *Router) RegisterWSRoutes(h *WSHandler) {
	r.Handle("/api/v1/ws", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Serve(w, req)
	})
}

// RegisterAdminRoutes 注册运维路由
func (r *Router) RegisterAdminRoutes(h *AdminHandler) {
	r.Handle("/api/v1/admin/scheduler", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.SchedulerStatus(w, req)
	})

	// /api/v1/admin/scheduler/{name}/{start|stop|trigger}
	r.Handle("/api/v1/admin/scheduler/", h.ServeSchedulerAction)

	r.Handle("/api/v1/admin/notifications/requeue-failed", h.RequeueFailed)

	r.Handle("/api/v1/admin/notifications/queue", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.QueueCounts(w, req)
	})

	r.Handle("/api/v1/admin/dispatcher", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.DispatcherStatus(w, req)
	})

	r.Handle("/api/v1/admin/connections", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ConnectionCounts(w, req)
	})

	// /api/v1/admin/connections/{id}
	r.Handle("/api/v1/admin/connections/", h.ServeConnectionLookup)
}

// RegisterHealthz 注册存活探针
func (r *Router) RegisterHealthz() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
