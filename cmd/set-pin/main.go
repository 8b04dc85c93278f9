package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"unicode"

	"golang.org/x/term"

	"github.com/educaition/station/internal/config"
	"github.com/educaition/station/internal/database"
	"github.com/educaition/station/internal/logger"
	"github.com/educaition/station/internal/settings"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.StationName)

	ctx := context.Background()

	db, err := database.Open(ctx, cfg.DatabasePath(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local database")
	}
	defer db.Close()

	fmt.Println("=== Set Proctor Override PIN ===")

	fmt.Print("Enter PIN (4-8 digits): ")
	pin, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read PIN")
	}
	if !validPIN(string(pin)) {
		fmt.Println("Error: PIN must be 4 to 8 digits")
		os.Exit(1)
	}

	fmt.Print("Confirm PIN: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read confirmation")
	}
	if string(pin) != string(confirm) {
		fmt.Println("Error: PINs do not match")
		os.Exit(1)
	}

	store := settings.NewStore(db, cfg.BcryptCost, log)
	if err := store.SetPIN(ctx, string(pin)); err != nil {
		log.Fatal().Err(err).Msg("Failed to store PIN")
	}

	fmt.Println("Proctor PIN set successfully")
}

func validPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 8 {
		return false
	}
	for _, r := range pin {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
