package fetchmgr

import (
	"fmt"
	"os"

	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/sirupsen/logrus"
)

func Example() {
	mgrArgs := map[string]interface{}{}
	// ./cloudfetch.yaml is a cloudfetch configuration that's been setup for your environment
	mgrArgs["config-file"] = "./cloudfetch.yaml"

	// Adding a custom logger is optional
	fetchLogger := logrus.New()
	fetchLogger.SetLevel(logrus.WarnLevel)
	mgrArgs["logger"] = fetchLogger

	mgr, err := NewManager(mgrArgs)
	if err != nil {
		fmt.Printf("Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	provider, err := mgr.StorageProvider()
	if err != nil {
		fmt.Printf("Failed to set up storage: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := mgr.Context()
	defer cancel()

	// Authenticate, verify, fetch and print in one pass
	req := mgr.ObjectRequest(cloudfetch.FetchRequest{Bucket: "reports", Object: "latest.json"})
	if err := mgr.NewPipeline(provider).Run(ctx, req, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cloudfetch.ExitCode(err))
	}
}
