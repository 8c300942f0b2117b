package main

import (
	"context"
	"flag"
	"log"

	"github.com/grand-thief-cash/taskmesh/infra"
	"github.com/grand-thief-cash/taskmesh/internal/config"
	"github.com/grand-thief-cash/taskmesh/internal/model"
	"github.com/grand-thief-cash/taskmesh/internal/registry_ext"
)

var (
	Version = "v0.1.0"
)

func main() {
	env := flag.String("env", "", "runtime environment (development|production)")
	cfgPath := flag.String("config", "config/taskmesh.yaml", "path to the node config file")
	flag.Parse()

	// 连通性自检用, 原样返回工作项
	registry_ext.RegisterCapability("taskmesh.echo", func(ctx context.Context, item model.WorkItem) (model.WorkItem, error) {
		return item, nil
	})

	app := infra.NewApp(*env, *cfgPath)
	app.SetBizConfig(config.Default())

	log.Printf("taskmesh %s starting with %s", Version, *cfgPath)
	if err := app.Run(); err != nil {
		log.Fatalf("app exited with error: %v", err)
	}
}
