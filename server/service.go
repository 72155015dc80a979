package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/data"
	"github.com/tkrehbiel/activitycore/server/feed"
	"github.com/tkrehbiel/activitycore/server/page"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
	"github.com/tkrehbiel/activitycore/server/webfinger"
)

const feedPeriod = 15 * time.Minute

type ActivityService struct {
	Config Config
	Server http.Server
	router *mux.Router
	meta   page.MetaData
	db     storage.Database
	fed    *Federation
	cancel context.CancelFunc
}

func (s *ActivityService) addHandlers() {
	s.router.HandleFunc("/", homeHandler).Methods("GET")

	s.addPageHandler(page.NewStaticPage(page.WellKnownHostMeta), s.meta)
	s.addPageHandler(page.NewStaticPage(page.WellKnownNodeInfo), s.meta)
	s.addPageHandler(page.NewStaticPage(page.NodeInfo), s.meta)
	s.router.Handle(webfinger.Path, webfinger.Handler{Meta: s.meta, Accounts: s.db}).Methods("GET")
	s.router.Handle("/profile/{name}", page.ProfilePage{Source: s.fed}).Methods("GET")

	actorPath := fmt.Sprintf("/%s/{name}", page.SubPath)
	s.router.HandleFunc(actorPath, s.getActor).Methods("GET")
	s.router.HandleFunc(actorPath+"/inbox", s.getInbox).Methods("GET")
	s.router.HandleFunc(actorPath+"/inbox", RequestLogger{Handler: s.postInbox}.ServeHTTP).Methods("POST")
	s.router.HandleFunc(actorPath+"/outbox", RequestLogger{Handler: s.postOutbox}.ServeHTTP).Methods("POST")
	s.router.HandleFunc(actorPath+"/{collection:outbox|followers|following}", s.getCollection).Methods("GET")
	s.router.HandleFunc("/objects/{id:.+}", s.getObject).Methods("GET")
}

func (s *ActivityService) addPageHandler(pg page.StaticPageHandler, meta any) {
	if err := pg.Init(meta); err != nil {
		telemetry.Error(err, "rendering %s", pg.Path())
	}
	router := s.router.HandleFunc(pg.Path(), pg.ServeHTTP).Methods("GET")
	if !s.Config.Server.AcceptAll && pg.Accept() != "" && pg.Accept() != "*/*" {
		router.Headers("Accept", pg.Accept())
	}
}

func writeEntity(w http.ResponseWriter, status int, e activity.Entity) {
	b, err := activity.Encode(e)
	if err != nil {
		telemetry.Error(err, "marshaling %s", e.Properties().ID)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", activity.ContentType)
	w.WriteHeader(status)
	w.Write(b)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	http.Error(w, msg, status)
}

// wantsHTML is a browser rather than a federated server
func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") &&
		!strings.Contains(accept, "activity+json") && !strings.Contains(accept, "ld+json")
}

func (s *ActivityService) getActor(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "getActor")
	name := mux.Vars(r)["name"]
	if wantsHTML(r) {
		http.Redirect(w, r, s.meta.ProfileURL(name), http.StatusFound)
		return
	}
	actor, err := s.fed.actors.LocalActor(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeEntity(w, http.StatusOK, actor)
}

func (s *ActivityService) getCollection(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "getCollection")
	vars := mux.Vars(r)
	s.serveCollection(w, r, vars["name"], vars["collection"])
}

// getInbox is only for the inbox's owner
func (s *ActivityService) getInbox(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "getInbox")
	name := mux.Vars(r)["name"]
	ctx, err := s.fed.authenticate(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	s.serveCollection(w, r.WithContext(ctx), name, "inbox")
}

func (s *ActivityService) serveCollection(w http.ResponseWriter, r *http.Request, name, which string) {
	actor, err := s.fed.actors.LocalActor(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	var uri string
	switch which {
	case "inbox":
		uri = actor.Inbox.URI()
	case "outbox":
		uri = actor.Outbox.URI()
	case "followers":
		uri = actor.Followers.URI()
	case "following":
		uri = actor.Following.URI()
	}
	c, err := s.fed.collection(r.Context(), uri)
	if err != nil {
		writeError(w, err)
		return
	}
	writeEntity(w, http.StatusOK, c)
}

// postInbox handles deliveries from other servers.
func (s *ActivityService) postInbox(w http.ResponseWriter, r *http.Request) {
	telemetry.Increment("post_requests", 1)
	name := mux.Vars(r)["name"]
	ctx := r.Context()
	recipient, err := s.fed.actors.LocalActor(ctx, name)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		telemetry.Error(err, "reading body bytes")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if hasSignature(r) {
		signer, err := verify(withSigner(ctx, name), s.fed.actors, r, body)
		if err != nil {
			telemetry.Error(err, "signature unverified for %s %s", r.Method, r.URL.Path)
			writeError(w, err)
			return
		}
		ctx = withVerifiedSender(ctx, signer)
	} else if !s.Config.Server.ReceiveUnsigned {
		telemetry.Warn("unsigned post to %s", r.URL.Path)
		writeError(w, fmt.Errorf("%w: request is not signed", ErrAuthentication))
		return
	}

	act, err := activity.DecodeAs[*activity.Activity](body)
	if err != nil {
		telemetry.Error(err, "unmarshaling activity [%s]", string(body))
		writeError(w, err)
		return
	}
	status, err := s.fed.HandleInboxRequest(ctx, act, recipient)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(status)
}

// postOutbox is a client posting as a local account.
// A bare object is wrapped in a Create.
func (s *ActivityService) postOutbox(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ctx, err := s.fed.authenticate(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		telemetry.Error(err, "reading body bytes")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	e, err := activity.Decode(body)
	if err != nil {
		writeError(w, err)
		return
	}
	var act *activity.Activity
	switch v := e.(type) {
	case *activity.Activity:
		act = v
	case *activity.Object:
		act = activity.NewCreate("", v)
	default:
		writeError(w, fmt.Errorf("%w: can't post a %s", ErrValidation, e.Type()))
		return
	}
	posted, err := s.fed.HandleOutboxRequest(ctx, ActivityRequest{Username: name, Activity: act})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", posted.ID)
	writeEntity(w, http.StatusCreated, posted)
}

func (s *ActivityService) getObject(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "getObject")
	id := s.meta.ObjectURL(mux.Vars(r)["id"])
	e, err := s.fed.store.RetrieveEntity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if e == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if e.Type() == activity.TombstoneType {
		writeEntity(w, http.StatusGone, e)
		return
	}
	writeEntity(w, http.StatusOK, e)
}

// Start syncs the accounts, then starts delivering, watching feeds and listening.
func (s *ActivityService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.fed.SyncAccounts(ctx); err != nil {
		return err
	}
	go s.fed.Run(ctx)

	// Spawn feed watcher goroutines
	for _, user := range s.Config.Users {
		if user.SourceURL == "" {
			continue
		}
		publisher := FeedPublisher{Federation: s.fed, Username: user.Name}
		watcher := feed.NewWatcher(user.SourceURL, s.Config.Server.timeout(), publisher)
		go watcher.Watch(ctx, feedPeriod)
	}

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			telemetry.Error(err, "listener stopped")
		}
	}()
	return nil
}

func (s *ActivityService) ListenAndServe() error {
	if s.Config.Server.useTLS() {
		telemetry.Log("tls listener starting on port %d", s.Config.Server.Port)
		return s.Server.ListenAndServeTLS(s.Config.Server.Certificate, s.Config.Server.PrivateKey)
	}
	telemetry.Log("http listener starting on port %d", s.Config.Server.Port)
	return s.Server.ListenAndServe()
}

// Stop anything related to the service before exiting
func (s *ActivityService) Stop(ctx context.Context) {
	if err := s.Server.Shutdown(ctx); err != nil {
		telemetry.Error(err, "shutting down listener")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.fed.Stop()
	s.db.Close()
	telemetry.LogCounters()
}

// NewService opens the database and creates an http service to listen for ActivityPub requests
func NewService(cfg Config) (*ActivityService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db := storage.NewDatabase(cfg.Server.database())
	if err := db.Open(); err != nil {
		return nil, fmt.Errorf("opening sqlite database [%s]: %w", cfg.Server.database(), err)
	}
	store, err := data.NewSQLiteStore(db.DB(), cfg.URL)
	if err != nil {
		db.Close()
		return nil, err
	}
	fed, err := NewFederation(cfg, db, store, LogNotifier{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return newService(cfg, db, fed), nil
}

func newService(cfg Config, db storage.Database, fed *Federation) *ActivityService {
	svc := &ActivityService{
		Config: cfg,
		router: mux.NewRouter(),
		meta:   fed.Meta(),
		db:     db,
		fed:    fed,
	}
	svc.addHandlers()
	svc.Server = http.Server{
		Handler:      svc.router,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
	}
	return svc
}

// Handler is the service's router, for tests and embedding
func (s *ActivityService) Handler() http.Handler {
	return s.router
}

// Federation is the service's federation core
func (s *ActivityService) Federation() *Federation {
	return s.fed
}

type RequestLogger struct {
	Handler http.HandlerFunc
}

func (rl RequestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "%s %s", r.Method, r.URL.Path)
	headers := make([]string, 0)
	for k, v := range r.Header {
		s := fmt.Sprintf("%s: %s", k, strings.Join(v, ", "))
		headers = append(headers, s)
	}
	telemetry.Trace(strings.Join(headers, " | "))

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		telemetry.Error(err, "error reading body")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(buf) > 0 {
		telemetry.Trace(string(buf))
	}
	r.Body = io.NopCloser(bytes.NewBuffer(buf))
	rl.Handler(w, r)
}

func homeHandler(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "homeHandler")
	telemetry.Increment("home_requests", 1)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<html><title>activitycore</title>
<body>
<p>This is activitycore, an ActivityPub server for the accounts configured on it.
There's nothing to see here.</p>
</body>
</html>`)
}
