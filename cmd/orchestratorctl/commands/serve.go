package commands

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"orchestrator/internal/printer"
	"orchestrator/pkg/orchestrator"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration engine as a long-lived HTTP service",
	Long: `serve wires one Orchestrator and keeps it running for the process lifetime, exposing
task submission, agent status, the pause/resume/emergency-stop control plane, a health
check, and a Prometheus /metrics endpoint over HTTP. The other subcommands ("submit",
"status", "pause", "resume", "emergency-stop") are thin clients against this process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8088", "address the HTTP API listens on")
	rootCmd.AddCommand(serveCmd)
}

type submitRequest struct {
	Instruction string `json:"instruction"`
	ProjectID   string `json:"projectId"`
}

type submitResponse struct {
	TaskID string `json:"taskId"`
}

type statusResponse struct {
	EmergencyStopped bool                       `json:"emergencyStopped"`
	Agents           []orchestrator.AgentStatus `json:"agents"`
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Failed to load configuration", err.Error(), nil)
	}
	d, err := wire(cfg)
	if err != nil {
		return printer.Error("Failed to initialize orchestrator", err.Error(), nil)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// Always 200: an unreachable AI backend degrades task execution,
		// per spec §7, it does not take the orchestration process down.
		writeJSON(w, http.StatusOK, d.orch.HealthStatus())
	})
	mux.Handle("/metrics", promhttp.HandlerFor(d.recorder.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		taskID, err := d.orch.SubmitTask(r.Context(), req.Instruction, req.ProjectID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, submitResponse{TaskID: taskID})
	})

	mux.HandleFunc("/agents", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			EmergencyStopped: d.orch.IsEmergencyStopped(),
			Agents:           d.orch.GetActiveAgents(),
		})
	})

	mux.HandleFunc("/control/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		d.orch.PauseAllAgents()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/control/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := d.orch.ResumeAllAgents(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/control/emergency-stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		d.orch.EmergencyStop()
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{Addr: serveAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		printer.Step("listening on %s\n", serveAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
