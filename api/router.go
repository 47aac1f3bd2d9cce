// Package api exposes the editor operations over HTTP.
package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"imageeditor/config"
	"imageeditor/editor"
)

// Router routes requests to the enabled editor operations.
type Router struct {
	router  *mux.Router
	service *editor.Service
	cfg     *config.Config
}

// NewRouter registers GET / and every endpoint enabled in cfg. Disabled
// endpoints are left unrouted and answer 404.
func NewRouter(service *editor.Service, cfg *config.Config) *Router {
	r := mux.NewRouter()
	router := &Router{
		router:  r,
		service: service,
		cfg:     cfg,
	}
	r.NotFoundHandler = http.HandlerFunc(router.notFoundHandler)
	r.MethodNotAllowedHandler = http.HandlerFunc(router.methodNotAllowedHandler)

	r.HandleFunc("/", router.rootHandler).Methods(http.MethodGet)

	handlers := map[string]http.HandlerFunc{
		config.EndpointTextToImage:      router.textToImageHandler,
		config.EndpointRemoveBackground: router.removeBackgroundHandler,
		config.EndpointStyleTransfer:    router.styleTransferHandler,
		config.EndpointEnhanceImage:     router.enhanceImageHandler,
		config.EndpointGenerateCaption:  router.generateCaptionHandler,
	}
	var enabled []string
	for _, name := range config.AllEndpoints {
		if !cfg.EndpointEnabled(name) {
			continue
		}
		r.HandleFunc("/"+name, handlers[name]).Methods(http.MethodPost)
		enabled = append(enabled, name)
	}

	if cfg.Settings.SaveLocalCopy {
		r.HandleFunc("/images/{id}", router.imageHandler).Methods(http.MethodGet)
	}

	log.Info().Str("endpoints", strings.Join(enabled, ",")).Msg("Routes registered")
	return router
}

func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	router.router.ServeHTTP(w, r)
}

// getBaseURL returns the public base URL used in archived image links.
func (router *Router) getBaseURL(r *http.Request) string {
	if router.cfg.Server.BaseURL != "" {
		return strings.TrimRight(router.cfg.Server.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (router *Router) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, http.StatusNotFound, "Not Found")
}

func (router *Router) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}
