package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/speters/xcomd/internal/config"
	"github.com/speters/xcomd/pkg/xcom"
)

var cfgFile = flag.String("f", "", "TOML config `file` with link settings and datapoints")
var httpServe = flag.String("s", "", "start http server at [bindtohost][:]port")
var connTo = flag.String("c", "", "connection string, use socket://[host]:[port] for TCP or [serialDevice] for direct serial connection ")
var bridgeTo = flag.String("b", "", "share the link with other Xcom clients at [bindtohost][:]port")
var getName = flag.String("g", "", "read datapoint `name` once, print it as JSON and exit")
var verbose = flag.Bool("v", false, "verbose logging")

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

// To be set via go build -ldflags "-X main.buildVersion=$(date -u +%FT%TZ) -X main.buildDate=$(git describe --dirty)"
var buildVersion = "unspecified"
var buildDate = "unknown"

func main() {
	flag.Parse()

	cfg := config.Default()
	if *cfgFile != "" {
		var err error
		cfg, err = config.Load(*cfgFile)
		if err != nil {
			log.Fatal(err)
		}
	}
	log.SetLevel(cfg.LogLevel)
	if *verbose {
		log.SetLevel(log.DebugLevel)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}
	if *connTo != "" {
		cfg.Link = *connTo
	}
	if *httpServe != "" {
		cfg.Listen = config.NormalizeListen(*httpServe)
	}

	if *bridgeTo != "" {
		cfg.Bridge = config.NormalizeListen(*bridgeTo)
	}

	if cfg.Link == "" {
		log.Fatal("Need connection string in -c option or link in config file")
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	done := make(chan os.Signal, 1)

	signal.Notify(done,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		<-done

		if *memprofile != "" {
			f, err := os.Create(*memprofile)
			if err != nil {
				log.Fatal("could not create memory profile: ", err)
			}
			runtime.GC() // get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Fatal("could not write memory profile: ", err)
			}
			f.Close()
		}
		if *cpuprofile != "" {
			pprof.StopCPUProfile()
		}
		os.Exit(0)
	}()

	dev := xcom.NewDevice()
	dev.Baud = cfg.Baud
	dev.Parity = cfg.Parity
	dev.Timeout = cfg.Timeout
	if err := dev.Connect(cfg.Link); err != nil {
		log.Fatal(err)
	}

	shared := xcom.NewSharedChannel(cfg.Link, dev)
	client := xcom.NewClient(shared)
	client.CacheDuration = cfg.Cache
	srv := newServer(client, cfg.Entries)

	if *getName != "" {
		s, err := srv.cliget(*getName)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(s)
		return
	}

	if cfg.Listen == "" && cfg.Bridge == "" {
		log.Infof("No http server requested, reading %d datapoints once", len(cfg.Entries))
		values, err := client.ReadEntries(context.Background(), cfg.Entries)
		bs, _ := json.MarshalIndent(values, "", "    ")
		fmt.Println(string(bs))
		if err != nil {
			log.Fatal(err)
		}
		return
	}

	if cfg.Bridge != "" {
		l, err := net.Listen("tcp", cfg.Bridge)
		if err != nil {
			log.Fatal(err)
		}
		log.Infof("Sharing %v at %v", cfg.Link, l.Addr())
		b := &xcom.Bridge{Channel: shared}
		go func() { log.Error(b.Serve(context.Background(), l)) }()
	}

	if cfg.Listen != "" {
		xcom.RegisterMetrics()
		h := &http.Server{Addr: cfg.Listen, Handler: srv.router()}
		go func() { log.Error(h.ListenAndServe()) }()
	}

	for {
		<-dev.Done()
		<-time.After(12 * time.Second)
		err := dev.Reconnect()
		if err != nil {
			log.Error(err)
		} else {
			log.Infof("Reconnected")
		}
	}
}

type server struct {
	client  *xcom.Client
	entries map[string]xcom.Entry
	order   []string
}

func newServer(client *xcom.Client, entries []xcom.Entry) *server {
	s := &server{client: client, entries: make(map[string]xcom.Entry, len(entries))}
	for _, e := range entries {
		s.entries[e.Name] = e
		s.order = append(s.order, e.Name)
	}
	return s
}

func (s *server) router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/datapoints", s.getDatapoints).Methods("GET")
	router.HandleFunc("/version", versionInfo).Methods("GET")
	router.HandleFunc("/value/{name}", s.getValue).Methods("GET")
	router.HandleFunc("/value/{name}", s.setValue).Methods("POST")
	router.HandleFunc("/multi", s.getMulti).Methods("GET")
	router.HandleFunc("/screen", s.getScreen).Methods("GET")
	router.HandleFunc("/screen/{command}", s.getScreen).Methods("GET")
	router.Handle("/metrics", promhttp.Handler())

	return router
}

// entryJSON is the wire representation of a configured datapoint
type entryJSON struct {
	xcom.Datapoint
	Dst      xcom.Address `json:"dst"`
	Property string       `json:"property"`
	Object   string       `json:"object_type"`
	Value    interface{}  `json:"value"`
}

func toJSON(e xcom.Entry, v interface{}) entryJSON {
	return entryJSON{Datapoint: e.Datapoint, Dst: e.Dst, Property: e.Property.String(), Object: e.Object().String(), Value: v}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ve *xcom.ValidationError
	var de *xcom.DeviceError
	var ce *xcom.ChannelError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.As(err, &de):
		status = http.StatusBadGateway
	case errors.As(err, &ce):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(status)
	w.Write([]byte(err.Error()))
}

func (s *server) getDatapoints(w http.ResponseWriter, r *http.Request) {
	l := make([]entryJSON, 0, len(s.order))
	for _, n := range s.order {
		l = append(l, toJSON(s.entries[n], nil))
	}
	writeJSON(w, http.StatusOK, l)
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	v := struct {
		Version   string `json:"version"`
		BuildDate string `json:"build_date"`
	}{Version: buildVersion, BuildDate: buildDate}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) getValue(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	e, ok := s.entries[params["name"]]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(fmt.Sprintf("No such datapoint %v", params["name"])))
		return
	}
	v, err := s.client.ReadValue(r.Context(), e.Datapoint, e.Dst, e.Property)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(e, v))
}

func (s *server) setValue(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	e, ok := s.entries[params["name"]]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(fmt.Sprintf("No such datapoint %v", params["name"])))
		return
	}

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	var val interface{}
	if err := decoder.Decode(&val); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(err.Error()))
		return
	}

	if err := s.client.WriteValue(r.Context(), e.Datapoint, val, e.Dst, e.Property); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("\"OK\"\n"))
}

func (s *server) getMulti(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var dps []xcom.Datapoint
	for _, n := range q["name"] {
		e, ok := s.entries[n]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(fmt.Sprintf("No such datapoint %v", n)))
			return
		}
		dps = append(dps, e.Datapoint)
	}

	agg := xcom.AggregationMaster
	switch q.Get("agg") {
	case "", "master":
	case "avg", "average":
		agg = xcom.AggregationAverage
	case "sum":
		agg = xcom.AggregationSum
	default:
		i, err := strconv.Atoi(q.Get("agg"))
		if err != nil || i < 1 || i > 0x0F {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(fmt.Sprintf("Invalid aggregation %q", q.Get("agg"))))
			return
		}
		agg = xcom.AggregationType(i)
	}

	values, err := s.client.ReadMultiValues(r.Context(), dps, agg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *server) getScreen(w http.ResponseWriter, r *http.Request) {
	cmd := xcom.ParseScreenCommand(mux.Vars(r)["command"])
	invert := r.URL.Query().Get("invert") != ""

	scr, err := s.client.ReadScreen(r.Context(), cmd, invert)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, scr.Image()); err != nil {
		log.Error(err)
	}
}

func (s *server) cliget(name string) (string, error) {
	e, ok := s.entries[name]
	if !ok {
		return "", fmt.Errorf("No such datapoint %v", name)
	}
	v, err := s.client.ReadValue(context.Background(), e.Datapoint, e.Dst, e.Property)
	if err != nil {
		return "", err
	}
	bs, err := json.MarshalIndent(toJSON(e, v), "", "    ")
	return string(bs), err
}
