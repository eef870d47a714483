package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-booking/internal/reminder"
)

func listJobsHandler(sched *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status *reminder.Status
		if raw := r.URL.Query().Get("status"); raw != "" {
			st, err := reminder.ParseStatus(raw)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			status = &st
		}

		jobs, err := sched.ListJobs(r.Context(), status)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if jobs == nil {
			jobs = []reminder.Job{}
		}

		writeJSON(w, http.StatusOK, jobs)
	}
}

func getJobHandler(sched *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := sched.GetJob(r.Context(), chi.URLParam(r, "job_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

func runJobHandler(sched *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := sched.RunNow(r.Context(), chi.URLParam(r, "job_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

func cancelJobHandler(sched *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "job_id")
		canceled, err := sched.CancelJob(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if !canceled {
			writeServiceError(w, r, reminder.ErrJobNotScheduled)
			return
		}

		job, err := sched.GetJob(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func rebuildReminderHandler(sched *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		job, err := sched.Rebuild(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

func recoverJobsHandler(sched *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := sched.Recover(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}
