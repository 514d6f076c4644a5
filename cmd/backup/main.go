// Command backup sichert die SQLite-Datenbank einmalig nach S3 und rotiert alte Backups.
package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"physbib/config"
	"physbib/storage"
)

func main() {
	log.Println("Starte Backup-Prozess...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}
	if cfg.DBDriver != "sqlite" {
		log.Fatalf("Backup unterstützt nur DB_DRIVER=sqlite, nicht %q", cfg.DBDriver)
	}
	if !cfg.BackupEnabled() {
		log.Fatal("S3_BUCKET, S3_ACCESS_KEY und S3_SECRET_KEY müssen gesetzt sein")
	}

	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}

	backup := &storage.Backup{
		Client: client,
		Bucket: cfg.S3Bucket,
		Prefix: cfg.S3Prefix,
		Keep:   cfg.BackupKeep,
		Logger: logging,
	}
	key, err := backup.Run(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("Backup fehlgeschlagen: %v", err)
	}
	log.Printf("Backup erfolgreich nach s3://%s/%s hochgeladen", cfg.S3Bucket, key)
	log.Println("Backup-Prozess erfolgreich abgeschlossen.")
}
