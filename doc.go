// Package strokeguard is a stroke diagnosis service: upload patient records
// as CSV, inspect exploratory charts, train a classifier and predict the
// diagnosis of new records.
//
// # Features
//
// - Preprocessing: imputation, label encoding and standard scaling, persisted with the model
// - Classifiers: RandomForest, SVM and GradientBoosting with optional grid search
// - Evaluation: accuracy, AUC, classification report, confusion matrix and ROC charts
// - Web UI and JSON API served with gin, per-session state
// - Optional training history in PostgreSQL
//
// # Quick Start
//
// Write a configuration file and start the server:
//
//	strokeguard config init
//	strokeguard serve --addr :8080
//
// Or train and predict from the command line:
//
//	strokeguard train --data patients.csv --model RandomForest \
//	    --params "{'n_estimators': [50, 100], 'max_depth': [5, 10]}"
//	strokeguard predict --input '{"Age": 67, "Gender": "Male", "Hypertension": 1}'
//
// The same pipeline is available as a library:
//
//	table, err := dataset.LoadFile("patients.csv", dataset.Schema{Numeric: []string{"Age"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	proc := preprocessing.NewProcessor(preprocessing.WithTargetClasses([]string{"No Stroke", "Stroke"}))
//	processed, err := proc.Process(table, "Diagnosis")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	model := predictor.New(proc)
//	if _, err := model.Train(processed, predictor.RandomForest, nil); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(model.Metrics.Report)
//
// # Packages
//
//   - dataset: CSV loading and typed column access
//   - preprocessing: imputer, encoders, scaler and the Processor that chains them
//   - sklearn/...: tree, ensemble, svm, linear_model and model_selection
//   - metrics: classification metrics and ROC
//   - predictor: model wrapper, grid parsing, persistence and evaluation charts
//   - graphs: exploratory charts drawn with gonum/plot
//   - internal/web, internal/cli: HTTP server and command line
//
// # Configuration
//
// Settings are read from strokeguard.yaml and STROKEGUARD_* environment
// variables, e.g. STROKEGUARD_ADDR or STROKEGUARD_DATABASE_DSN.
package strokeguard
