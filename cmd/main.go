package main

import (
  "fmt"
  "os"
  "os/signal"
  "syscall"
  "github.com/yungbote/dialbridge-backend/internal/app"
  "github.com/yungbote/dialbridge-backend/internal/pkg/envutil"
)

func main() {
  a, err := app.New()
  if err != nil {
    fmt.Printf("Failed to init app: %v\n", err)
    os.Exit(1)
  }
  defer a.Close()

  a.Start()

  quit := make(chan os.Signal, 1)
  signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
  go func() {
    <-quit
    a.Log.Info("Shutting down...")
    a.Close()
    os.Exit(0)
  }()

  addr := ":" + envutil.String("PORT", "8080")
  a.Log.Info("Starting server", "addr", addr)
  if err := a.Run(addr); err != nil {
    a.Log.Error("Server exited", "error", err)
    os.Exit(1)
  }
}
