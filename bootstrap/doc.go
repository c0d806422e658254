// Package bootstrap is the composition root. It builds each engine once from
// configuration and hands the same pointers to the orchestrator and the CLI.
//
// Usage:
//
//	cfg, sugar, err := bootstrap.InitConfig(path, "", "")
//	if err != nil {
//	    return err
//	}
//	app, err := bootstrap.NewApp(ctx, cfg, sugar)
//	if err != nil {
//	    return err
//	}
//	app.Start(ctx)
//	defer app.Shutdown()
//
//	result := app.Orchestrator.ProcessEvent(ctx, event)
package bootstrap
