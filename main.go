package main

import (
	"bitwise74/media-store/aws"
	"bitwise74/media-store/config"
	"bitwise74/media-store/db"
	"bitwise74/media-store/service"
	"bitwise74/media-store/storage"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Maintenance daemon for the stored file engine: keeps the local store
// mirrored to S3 and sweeps out expired uploads. The library packages do
// the actual work, this only wires them to the config.
func main() {
	err := config.Setup()
	if err != nil {
		panic(err)
	}

	conn, err := db.New()
	if err != nil {
		panic(err)
	}

	store, err := storage.New(viper.GetString("storage.local_dir"))
	if err != nil {
		panic(err)
	}

	files := service.NewFiles(conn, store, service.DefaultRules())

	var mirror *aws.Mirror
	var remote service.RemoteRemover

	if viper.GetString("storage.remote_mode") == "s3" {
		s3c, err := aws.NewS3()
		if err != nil {
			panic(err)
		}

		mirror = aws.NewMirror(s3c, files)
		remote = mirror
	}

	sweep := service.NewSweep(files, remote)

	if config.SweepOnce() {
		n := sweep.RunOnce()
		zap.L().Info("Sweep finished", zap.Int("deleted", n))
		return
	}

	if mirror != nil {
		mirror.Start()
	}
	sweep.Start()

	zap.L().Info("Maintenance daemon started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	sweep.Stop()
	if mirror != nil {
		mirror.Stop()
	}
}
