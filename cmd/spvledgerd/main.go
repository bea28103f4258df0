package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/commerceblock/spvledger"
	"github.com/commerceblock/spvledger/signal"
	flags "github.com/jessevdk/go-flags"
)

func main() {
	// Hook interceptor for os signals.
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Load the configuration, and parse any command line options. This
	// function will also set up logging properly.
	loadedConfig, err := spvledger.LoadConfig(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if !errors.As(err, &flagErr) || flagErr.Type != flags.ErrHelp {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	err = spvledger.Main(
		loadedConfig, spvledger.Collaborators{}, shutdownInterceptor,
	)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
