package compile

import (
	"fmt"
	"sync"

	"github.com/grovetools/elmwatch/cli"
	"github.com/grovetools/elmwatch/errors"
	"github.com/grovetools/elmwatch/internal/project"
	"github.com/grovetools/elmwatch/internal/spawn"
)

// RunMake is the one-shot mode: install dependencies, compile every enabled
// target once (respecting the concurrency cap), print the deduplicated error
// reports, and return the exit code.
func RunMake(executor spawn.Executor, term *cli.Terminal, p *project.Project, concurrencyLimit int) int {
	if err := InstallDependencies(executor, term, p); err != nil {
		return 1
	}

	engine := NewEngine(executor, nil, project.RunModeMake, p.WatchRoot)

	for {
		actions := GetOutputActions(GetOutputActionsParams{
			Project:            p,
			RunMode:            project.RunModeMake,
			IncludeInterrupted: true,
			ConcurrencyLimit:   concurrencyLimit,
		})
		if len(actions.Actions) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, action := range actions.Actions {
			wg.Add(1)
			go func(action OutputAction) {
				defer wg.Done()
				engine.HandleOutputAction(action)
			}(action)
		}
		wg.Wait()
	}

	renderings := collectRenderings(p)
	for _, rendering := range renderings {
		term.WriteLine(term.ErrorTitle(rendering))
	}

	if len(renderings) > 0 {
		term.WriteLine(fmt.Sprintf("%s %d error(s) found", term.Emoji("🚨", "!"), len(renderings)))
		return 1
	}

	for _, elmJson := range p.ElmJsons {
		for _, target := range elmJson.Targets {
			term.WriteLine(term.Success(term.Emoji("✅", "ok") + " " + target.Path.TargetName))
		}
	}
	return 0
}

// collectRenderings gathers every error report of the run, deduplicated by
// rendered text.
func collectRenderings(p *project.Project) []string {
	var renderings []string
	for _, outputError := range p.ElmJsonsErrors {
		renderings = append(renderings, errors.Flatten(outputError.Error)...)
	}
	for _, elmJson := range p.ElmJsons {
		for _, target := range elmJson.Targets {
			if compileError, ok := target.State.Status.(project.CompileError); ok {
				renderings = append(renderings, errors.Flatten(compileError.Error)...)
			}
		}
	}
	return errors.Dedup(renderings)
}
