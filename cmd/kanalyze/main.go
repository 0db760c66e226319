// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command kanalyze builds the memory model of LLVM IR files and reports
// its size.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/google/go-kanalyzer/internal/pkg/config"
	"github.com/google/go-kanalyzer/internal/pkg/global"
	"github.com/google/go-kanalyzer/internal/pkg/graphprinter"
	"github.com/google/go-kanalyzer/internal/pkg/nodes"
	"github.com/google/go-kanalyzer/pkg/kanalyzer"
)

func main() {
	app := cli.NewApp()
	app.Name = "kanalyze"
	app.Usage = "build a field-sensitive memory model of LLVM IR files"
	app.ArgsUsage = "<file.ll>..."
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to analysis configuration file",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable debug output for logging",
		},
		cli.StringFlag{
			Name:  "containers-dot",
			Usage: "write the struct embedding graph in DOT to this file",
		},
		cli.BoolFlag{
			Name:  "dump-nodes",
			Usage: "print every node of the memory model",
		},
	}
	app.Action = run

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.NewExitError("no IR files given", 2)
	}

	if path := ctx.String("config"); path != "" {
		if err := config.FlagSet.Set("config", path); err != nil {
			return err
		}
	}
	conf, err := config.ReadConfig()
	if err != nil {
		return err
	}
	log.SetLevel(conf.Level())
	if ctx.Bool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	c, err := kanalyzer.Analyze(context.Background(), ctx.Args(), conf)
	if err != nil {
		return err
	}

	if path := ctx.String("containers-dot"); path != "" {
		if err := writeContainers(c, path); err != nil {
			return err
		}
	}
	if ctx.Bool("dump-nodes") {
		for i := 0; i < c.Nodes.NumNodes(); i++ {
			fmt.Println(c.Nodes.NodeString(nodes.NodeIndex(i)))
		}
	}

	printStats(kanalyzer.Summarize(c))
	return nil
}

func writeContainers(c *global.Context, path string) error {
	// Anonymous types are qualified as "_stem.name".
	unqualified := func(name string) string {
		if strings.HasPrefix(name, "_") {
			if i := strings.IndexByte(name, '.'); i >= 0 {
				return name[i+1:]
			}
		}
		return name
	}
	dot := graphprinter.Print(c.Structs.ContainerGraph(),
		func(name string) bool { return c.Config.IsUnionType(unqualified(name)) },
		func(name string) bool { return c.Config.IsAnonType(unqualified(name)) },
	)
	if err := os.WriteFile(path, []byte(dot), 0o644); err != nil {
		return errors.Wrap(err, "writing container graph")
	}
	log.Infof("wrote container graph to %s", path)
	return nil
}

func printStats(s kanalyzer.Stats) {
	fmt.Println(aurora.Bold("Modules:"), s.Modules)
	fmt.Println(aurora.Bold("Struct types:"), s.Structs)
	fmt.Println(aurora.Bold("Largest struct:"), aurora.Magenta(s.MaxStruct), fmt.Sprintf("(%d fields)", s.MaxStructSize))
	fmt.Println(aurora.Bold("Value nodes:"), s.ValueNodes)
	fmt.Println(aurora.Bold("Object nodes:"), s.ObjectNodes, "in", s.Objects, "objects")
	fmt.Println(aurora.Bold("Heap nodes:"), aurora.BrightGreen(s.HeapNodes))
}
