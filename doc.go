// Package vigil classifies windows of sampled signals as normal or abnormal
// with a hierarchical ensemble of per-dimension Gaussian detectors.
//
// A feature gram (rows are time slices, columns are feature dimensions) is
// judged by three nested votes: every feature element has a scalar detector,
// a row is anomalous when enough of its elements are, and a gram is anomalous
// when enough of its rows are. A classifier may consume several parallel
// feature grams and votes once more across them.
//
// # Basic Usage
//
// Train on labeled samples and classify new grams:
//
//	cfg := vigil.DefaultConfig()
//	cfg.Training.Descriptors = []vigil.FeatureGramDescriptor{{Name: "mfcc"}}
//
//	trainer, err := vigil.NewTrainer(cfg, vigil.ClassifierOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	clf, err := trainer.Train(samples)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out, err := clf.Classify([]vigil.FeatureGram{gram})
//	fmt.Println(out.Decision().Value, out.AnomalyScore())
//
// Only normal data is needed. When abnormal examples are available the
// decision boundary moves to the point where the normal and abnormal fits are
// equally likely.
//
// # Deployment
//
// The first classification after training or loading starts a new deployment.
// A configurable number of classifications is spent learning the deployed
// environment, during which nothing is flagged. With adaptation enabled,
// values from the deployed environment are linearly remapped onto the trained
// distribution before thresholding.
//
// # Collaborators
//
//   - ModelStore persists classifier models on a StorageBackend (memory, file,
//     S3, SQLite or tiered), optionally encrypted with AES-256-GCM
//   - SampleLog archives labeled samples for retraining
//   - ScoreExporter pushes anomaly scores via Prometheus remote write
//   - ScoreHub streams classification events over WebSocket
//   - Metrics exposes Prometheus counters for classifications and training
package vigil
