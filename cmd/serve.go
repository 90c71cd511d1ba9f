// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/efuse"
	"github.com/Thermoquad/fusectl/pkg/fusesim"
	"github.com/Thermoquad/fusectl/pkg/probewire"
)

var (
	serveListen  string
	servePath    string
	serveAddress uint64
	serveTemp    float64
	serveVCCAUX  float64
	serveVCCINT  float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a simulated probe",
	Long: `Expose a simulated fuse array as a probe, so the rest of the tool chain
can be exercised without hardware.

  Serial:    fusectl serve --sim array.cbor --port /dev/ttyGS0
  WebSocket: fusectl serve --sim array.cbor --listen :8080 [--path /probe]

With --username, WebSocket clients must send HTTP Basic credentials; the
password comes from FUSECTL_PASSWORD or an interactive prompt. The image is
saved when the server stops.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address for WebSocket clients")
	serveCmd.Flags().StringVar(&servePath, "path", "/probe", "WebSocket endpoint path")
	serveCmd.Flags().Uint64Var(&serveAddress, "address", 0xC0FFEE01, "Probe address to answer")
	serveCmd.Flags().Float64Var(&serveTemp, "temperature", 0, "Simulated die temperature in C (0 keeps the image value)")
	serveCmd.Flags().Float64Var(&serveVCCAUX, "vccaux", 0, "Simulated VCCAUX in V (0 keeps the image value)")
	serveCmd.Flags().Float64Var(&serveVCCINT, "vccint", 0, "Simulated VCCINT in V (0 keeps the image value)")
	rootCmd.AddCommand(serveCmd)
}

func loadSimulator() (*fusesim.Array, error) {
	v, err := efuse.ParseVariant(simVariant)
	if err != nil {
		return nil, err
	}
	if simImage == "" {
		return fusesim.New(v)
	}
	return fusesim.LoadFile(simImage, v)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListen == "" && portName == "" {
		return fmt.Errorf("one of --listen or --port must be specified")
	}

	sim, err := loadSimulator()
	if err != nil {
		return err
	}
	if serveTemp != 0 || serveVCCAUX != 0 || serveVCCINT != 0 {
		applyEnvironment(sim)
	}
	defer func() {
		if simImage == "" {
			return
		}
		if err := sim.SaveFile(simImage); err != nil {
			logger.Error("failed to save simulator image", "path", simImage, "error", err)
		}
	}()

	server := probewire.NewServer(sim,
		probewire.WithServerAddress(serveAddress),
		probewire.WithServerLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Simulated %s probe 0x%016X\n", sim.Variant(), serveAddress)

	if serveListen != "" {
		return serveWebSocket(ctx, server)
	}
	return serveSerial(ctx, server)
}

func applyEnvironment(sim *fusesim.Array) {
	sample, _ := sim.ReadTemperatureAndVoltage(efuse.RailVCCAUX)
	temp := efuse.TemperatureFromRaw(sample.Temperature)
	vccaux := efuse.VoltageFromRaw(sample.Voltage)
	sample, _ = sim.ReadTemperatureAndVoltage(efuse.RailVCCINT)
	vccint := efuse.VoltageFromRaw(sample.Voltage)

	if serveTemp != 0 {
		temp = serveTemp
	}
	if serveVCCAUX != 0 {
		vccaux = serveVCCAUX
	}
	if serveVCCINT != 0 {
		vccint = serveVCCINT
	}
	sim.SetEnvironment(temp, vccaux, vccint)
}

func serveSerial(ctx context.Context, server *probewire.Server) error {
	link, err := OpenSerialLink(portName, baudRate)
	if err != nil {
		return err
	}
	fmt.Printf("Serving on %s @ %d baud. Press Ctrl+C to exit\n", portName, baudRate)

	errc := make(chan error, 1)
	go func() { errc <- server.Serve(link) }()

	select {
	case <-ctx.Done():
		_ = link.Close()
		<-errc
	case err = <-errc:
		_ = link.Close()
	}
	stats := server.Stats()
	fmt.Print(stats.String())
	return err
}

func serveWebSocket(ctx context.Context, server *probewire.Server) error {
	password := ""
	if wsUsername != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return err
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(servePath, func(w http.ResponseWriter, r *http.Request) {
		if wsUsername != "" && !checkBasicAuth(r, wsUsername, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="fusectl"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		logger.Info("client connected", "remote", r.RemoteAddr)
		link := newWSLink(conn)
		defer link.Close()
		if err := server.Serve(link); err != nil {
			logger.Warn("client link failed", "remote", r.RemoteAddr, "error", err)
		}
		logger.Info("client disconnected", "remote", r.RemoteAddr)
	})

	httpServer := &http.Server{
		Addr:              serveListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- httpServer.ListenAndServe() }()
	fmt.Printf("Serving ws://%s%s. Press Ctrl+C to exit\n", serveListen, servePath)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	if errors.Is(<-errc, http.ErrServerClosed) {
		stats := server.Stats()
		fmt.Print(stats.String())
	}
	return err
}

func checkBasicAuth(r *http.Request, username, password string) bool {
	u, p, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(u), []byte(username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
	return userOK && passOK
}
